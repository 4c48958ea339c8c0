package authsel

import (
	"encoding/json"
	"log/slog"
	"time"
)

// Security event types.
const (
	EventAuthentication   = "authentication"
	EventCredential       = "credential"
	EventSessionLifecycle = "session_lifecycle"
)

// Security event subtypes.
const (
	SubtypeAttempt  = "attempt"
	SubtypeSuccess  = "success"
	SubtypeFailure  = "failure"
	SubtypeOpen     = "open"
	SubtypeCanceled = "canceled"
	SubtypeClosed   = "closed"
	SubtypeHold     = "hold"
	SubtypeUnhold   = "unhold"
	SubtypeRelease  = "release"
)

// Security event outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeAttempt = "attempt"
)

// Security event severities.
const (
	SeverityInfo    = "INFO"
	SeverityWarning = "WARNING"
	SeverityError   = "ERROR"
)

// SecurityEvent is a structured audit record in the NIST SP 800-92 shape.
type SecurityEvent struct {
	Timestamp string `json:"timestamp"`
	EventType string `json:"event_type"`
	Subtype   string `json:"subtype"`
	Severity  string `json:"severity"`

	User          string `json:"user,omitempty"`
	Source        string `json:"source"`
	Target        string `json:"target"`
	CorrelationID string `json:"correlation_id"`

	Action  string         `json:"action"`
	Outcome string         `json:"outcome"`
	Details map[string]any `json:"details,omitempty"`
}

// String returns the JSON form of the event.
func (e *SecurityEvent) String() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// securityLogger writes security events for one session.
type securityLogger struct {
	logger        *slog.Logger
	user          string
	target        string
	correlationID string
}

func newSecurityLogger(logger *slog.Logger, user, target, correlationID string) *securityLogger {
	return &securityLogger{
		logger:        logger,
		user:          user,
		target:        target,
		correlationID: correlationID,
	}
}

func (l *securityLogger) log(eventType, subtype, severity, outcome, action string, details map[string]any) {
	if l == nil || l.logger == nil {
		return
	}
	if details == nil {
		details = make(map[string]any)
	}
	event := &SecurityEvent{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		EventType:     eventType,
		Subtype:       subtype,
		Severity:      severity,
		User:          l.user,
		Source:        "go-authselect",
		Target:        l.target,
		CorrelationID: l.correlationID,
		Action:        action,
		Outcome:       outcome,
		Details:       details,
	}

	switch severity {
	case SeverityWarning:
		l.logger.Warn("SecurityEvent", "event", event)
	case SeverityError:
		l.logger.Error("SecurityEvent", "event", event)
	default:
		l.logger.Info("SecurityEvent", "event", event)
	}
}

func (l *securityLogger) session(subtype string, details map[string]any) {
	l.log(EventSessionLifecycle, subtype, SeverityInfo, OutcomeSuccess, "Session", details)
}

func (l *securityLogger) acquire(subtype, outcome string, details map[string]any) {
	severity := SeverityInfo
	if outcome == OutcomeFailure {
		severity = SeverityWarning
	}
	l.log(EventAuthentication, subtype, severity, outcome, "AcquireCredential", details)
}

func (l *securityLogger) reference(subtype, outcome string, details map[string]any) {
	l.log(EventCredential, subtype, SeverityInfo, outcome, "Reference", details)
}
