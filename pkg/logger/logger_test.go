package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupLevels(t *testing.T) {
	tests := []struct {
		name      string
		verbose   bool
		wantDebug bool
	}{
		{"quiet", false, false},
		{"verbose", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := Setup(Options{Verbose: tt.verbose, Output: &buf})
			log.Debug("connection closed", "slot", 3)
			log.Info("relay listening")

			out := buf.String()
			require.Contains(t, out, "relay listening")
			require.Equal(t, tt.wantDebug, strings.Contains(out, "connection closed"))
		})
	}
}

func TestSetupJSON(t *testing.T) {
	var buf bytes.Buffer
	log := Setup(Options{Format: "json", Output: &buf})
	log.Info("relay listening", "addr", "127.0.0.1:9000")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "relay listening", rec["msg"])
	require.Equal(t, "127.0.0.1:9000", rec["addr"])
	require.Equal(t, "INFO", rec["level"])
}

func TestDiscard(t *testing.T) {
	log := Discard()
	require.False(t, log.Enabled(context.Background(), slog.LevelError))
}
