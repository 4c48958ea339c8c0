package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactingHandler(t *testing.T) {
	tests := []struct {
		name     string
		attrs    []slog.Attr
		expected map[string]string
	}{
		{
			name: "secrets are masked",
			attrs: []slog.Attr{
				slog.String("password", "hunter2"),
				slog.String("pkcs12_passphrase", "abc"),
				slog.String("client", "alice@EXAMPLE.COM"),
			},
			expected: map[string]string{
				"password":          redacted,
				"pkcs12_passphrase": redacted,
				"client":            "alice@EXAMPLE.COM",
			},
		},
		{
			name: "identity keys stay visible",
			attrs: []slog.Attr{
				slog.String("reference_key", "krb5:alice@EXAMPLE.COM"),
				slog.String("principal", "cifs/host@EXAMPLE.COM"),
			},
			expected: map[string]string{
				"reference_key": "krb5:alice@EXAMPLE.COM",
				"principal":     "cifs/host@EXAMPLE.COM",
			},
		},
		{
			name: "nested groups are masked",
			attrs: []slog.Attr{
				slog.Group("secrets",
					slog.String("Password", "hidden"),
					slog.String("user", "visible"),
				),
			},
			expected: map[string]string{
				"secrets.Password": redacted,
				"secrets.user":     "visible",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(NewRedactingHandler(slog.NewJSONHandler(&buf, nil)))

			args := make([]any, len(tt.attrs))
			for i, a := range tt.attrs {
				args[i] = a
			}
			logger.Info("selection", args...)

			var result map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &result))

			for k, want := range tt.expected {
				var val any = result
				for _, part := range strings.Split(k, ".") {
					m, ok := val.(map[string]any)
					require.True(t, ok, "key %s", k)
					val = m[part]
				}
				assert.Equal(t, want, val, "key %s", k)
			}
		})
	}
}

func TestRedactingHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewRedactingHandler(slog.NewJSONHandler(&buf, nil))).
		With("password", "hunter2")
	logger.Info("bound")

	assert.NotContains(t, buf.String(), "hunter2")
	assert.Contains(t, buf.String(), redacted)
}

func TestNew_Disabled(t *testing.T) {
	logger, closer, err := New(Options{})
	require.NoError(t, err)
	require.NotNil(t, closer)
	assert.False(t, logger.Enabled(t.Context(), slog.LevelError))
}

func TestNew_BadLevel(t *testing.T) {
	_, _, err := New(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestRotatingFile_Rotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authselect.log")
	rf, err := NewRotatingFile(path, 10, 2)
	require.NoError(t, err)

	for _, line := range []string{"first-line\n", "second-line\n", "third-line\n"} {
		_, err := rf.Write([]byte(line))
		require.NoError(t, err)
	}
	require.NoError(t, rf.Close())

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "third-line\n", string(current))

	newest, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	assert.Equal(t, "second-line\n", string(newest))

	oldest, err := os.ReadFile(path + ".2")
	require.NoError(t, err)
	assert.Equal(t, "first-line\n", string(oldest))
}
