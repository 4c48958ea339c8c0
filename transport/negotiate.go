package transport

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// maxNegotiateRetries bounds the handshake legs so a misbehaving server
// cannot loop the client forever.
const maxNegotiateRetries = 5

// NegotiateAuth runs a token handshake under an HTTP authentication scheme,
// "Negotiate" unless configured otherwise.
type NegotiateAuth struct {
	provider SecurityProvider
	scheme   string
	logger   *slog.Logger
}

// NewNegotiateAuth creates a Negotiate authenticator over provider.
func NewNegotiateAuth(provider SecurityProvider) *NegotiateAuth {
	return &NegotiateAuth{provider: provider, scheme: "Negotiate", logger: slog.Default()}
}

// Name returns the scheme name.
func (a *NegotiateAuth) Name() string {
	return a.scheme
}

// Transport wraps base with the handshake.
func (a *NegotiateAuth) Transport(base http.RoundTripper) http.RoundTripper {
	return &negotiateRoundTripper{
		base:     base,
		provider: a.provider,
		scheme:   a.scheme,
		logger:   a.logger,
	}
}

type negotiateRoundTripper struct {
	base     http.RoundTripper
	provider SecurityProvider
	scheme   string
	logger   *slog.Logger
}

func (rt *negotiateRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// Buffer the body so every leg can resend it
	var bodyBytes []byte
	if req.Body != nil && req.ContentLength > 0 {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(bodyBytes)), nil
		}
	}

	var clientToken []byte
	for attempt := 0; attempt < maxNegotiateRetries; attempt++ {
		reqClone := req.Clone(req.Context())
		if bodyBytes != nil {
			reqClone.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			reqClone.ContentLength = int64(len(bodyBytes))
		}
		if clientToken != nil {
			reqClone.Header.Set("Authorization",
				rt.scheme+" "+base64.StdEncoding.EncodeToString(clientToken))
		}

		resp, err := rt.base.RoundTrip(reqClone)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}

		serverToken, ok := rt.challenge(resp.Header.Values("WWW-Authenticate"))
		if !ok {
			// not our scheme; let the caller see the 401
			return resp, nil
		}
		_ = resp.Body.Close()
		if b, ok := rt.provider.(ChannelBinder); ok && resp.TLS != nil {
			b.BindTLS(resp.TLS)
		}

		var continueNeeded bool
		clientToken, continueNeeded, err = rt.provider.Step(req.Context(), serverToken)
		if err != nil {
			return nil, fmt.Errorf("%s step failed: %w", strings.ToLower(rt.scheme), err)
		}
		rt.logger.Debug("authentication leg", "scheme", rt.scheme, "attempt", attempt+1, "continue", continueNeeded)

		// the handshake is over but the server still refuses us
		if !continueNeeded && attempt > 0 && len(clientToken) == 0 {
			break
		}
	}

	return nil, fmt.Errorf("%s authentication failed after %d attempts",
		strings.ToLower(rt.scheme), maxNegotiateRetries)
}

// challenge finds the header for rt.scheme and decodes its token, which may
// be absent.
func (rt *negotiateRoundTripper) challenge(values []string) ([]byte, bool) {
	for _, v := range values {
		scheme, param, _ := strings.Cut(strings.TrimSpace(v), " ")
		if !strings.EqualFold(scheme, rt.scheme) {
			continue
		}
		param = strings.TrimSpace(param)
		if param == "" {
			return nil, true
		}
		// a bad token is treated like a bare challenge
		token, err := base64.StdEncoding.DecodeString(param)
		if err != nil {
			return nil, true
		}
		return token, true
	}
	return nil, false
}
