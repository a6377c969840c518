package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestInitJSON tests JSON output with component fields
func TestInitJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	logger := WithComponent("transport")
	logger.Info().Str("subject", "round.created.v1").Msg("frame received")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "transport", line["component"])
	assert.Equal(t, "round.created.v1", line["subject"])
	assert.Equal(t, "frame received", line["message"])
}

// TestParseLevel tests level parsing fallback
func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLevel("warn"))
	assert.Equal(t, InfoLevel, ParseLevel("verbose"))
}
