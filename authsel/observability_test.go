package authsel

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimSpace(b.buf.String()), "\n")
}

func TestSession_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	env := newTestEnv()
	env.opts = []Option{WithMetrics(m)}
	s := managedSession(t, env)

	_, err := s.Selections()[0].AcquireCredential(context.Background(), Secrets{})
	require.NoError(t, err)
	_, err = s.Selections()[0].AcquireCredential(context.Background(), Secrets{})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Selections.WithLabelValues("Kerberos")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Acquisitions.WithLabelValues("Kerberos", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Acquisitions.WithLabelValues("Kerberos", "reused")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.recordSession()
		m.recordSelection(MechNTLM)
		m.recordAcquire(MechNTLM, "success", 0)
		m.recordLookup(false)
		m.recordReference("add", "success")
	})
}

func TestSession_SecurityEvents(t *testing.T) {
	var sink syncBuffer
	logger := slog.New(slog.NewJSONHandler(&sink, nil))

	env := newTestEnv()
	env.lib.failFor = map[string]error{"alice@EXAMPLE.COM": errKDCUnreachable}
	env.opts = []Option{WithLogger(logger)}
	s := managedSession(t, env)

	_, err := s.Selections()[0].AcquireCredential(context.Background(), Secrets{})
	require.Error(t, err)
	require.NoError(t, s.Close())

	var events []SecurityEvent
	for _, line := range sink.lines() {
		var rec struct {
			Msg   string        `json:"msg"`
			Event SecurityEvent `json:"event"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		if rec.Msg == "SecurityEvent" {
			events = append(events, rec.Event)
		}
	}

	var subtypes []string
	for _, e := range events {
		subtypes = append(subtypes, e.EventType+"/"+e.Subtype)
		assert.Equal(t, "cifs@host.example.com", e.Target)
		assert.Equal(t, s.ID(), e.CorrelationID)
	}
	assert.Equal(t, []string{
		"session_lifecycle/open",
		"authentication/attempt",
		"authentication/failure",
		"session_lifecycle/canceled",
		"session_lifecycle/closed",
	}, subtypes)
	assert.Equal(t, SeverityWarning, events[2].Severity)
}

func TestSecurityEvent_String(t *testing.T) {
	e := &SecurityEvent{EventType: EventCredential, Subtype: SubtypeHold, Outcome: OutcomeSuccess}
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(e.String()), &decoded))
	assert.Equal(t, "credential", decoded["event_type"])
	assert.NotContains(t, decoded, "details")
}
