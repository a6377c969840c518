package mirror

import (
	"encoding/json"
	"testing"

	"github.com/cuemby/eventsync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDecodeEnvelope tests envelope detection
func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name         string
		data         string
		wantEnvelope bool
		wantType     types.EnvelopeType
		wantVersion  uint64
		wantErr      bool
	}{
		{"snapshot", `{"type":"snapshot","schema":"round","version":3,"ts":"2026-01-02T15:04:05Z","payload":{"id":"r"}}`, true, types.EnvelopeSnapshot, 3, false},
		{"delta", `{"type":"delta","version":0,"payload":{"id":"r"}}`, true, types.EnvelopeDelta, 0, false},
		{"raw payload", `{"entries":[]}`, false, types.EnvelopeSnapshot, 0, false},
		{"type without version is raw", `{"type":"snapshot","id":"r"}`, false, types.EnvelopeSnapshot, 0, false},
		{"unknown type", `{"type":"patch","version":1,"payload":{}}`, true, "", 0, true},
		{"missing payload", `{"type":"delta","version":1}`, true, "", 0, true},
		{"negative version", `{"type":"delta","version":-1,"payload":{}}`, true, "", 0, true},
		{"array", `[1,2]`, false, "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, isEnvelope, err := DecodeEnvelope([]byte(tt.data))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantEnvelope, isEnvelope)
			assert.Equal(t, tt.wantType, env.Type)
			assert.Equal(t, tt.wantVersion, env.Version)
		})
	}
}

// TestMergePatch tests RFC 7386 semantics
func TestMergePatch(t *testing.T) {
	tests := []struct {
		name   string
		target string
		patch  string
		want   string
	}{
		{"replace field", `{"a":"b"}`, `{"a":"c"}`, `{"a":"c"}`},
		{"add field", `{"a":"b"}`, `{"b":"c"}`, `{"a":"b","b":"c"}`},
		{"remove field", `{"a":"b","b":"c"}`, `{"a":null}`, `{"b":"c"}`},
		{"arrays replace", `{"a":[1,2]}`, `{"a":[3]}`, `{"a":[3]}`},
		{"nested merge", `{"a":{"b":1,"c":2}}`, `{"a":{"c":null,"d":3}}`, `{"a":{"b":1,"d":3}}`},
		{"object over scalar", `{"a":1}`, `{"a":{"b":2}}`, `{"a":{"b":2}}`},
		{"nested nulls dropped", `{}`, `{"a":{"b":null}}`, `{"a":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var target, patch map[string]any
			require.NoError(t, json.Unmarshal([]byte(tt.target), &target))
			require.NoError(t, json.Unmarshal([]byte(tt.patch), &patch))

			got, err := json.Marshal(mergePatch(target, patch))
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

// TestCloneDoc tests that clones share nothing with the source
func TestCloneDoc(t *testing.T) {
	src := map[string]any{"a": map[string]any{"b": []any{1.0}}}
	dst := cloneDoc(src)
	dst["a"].(map[string]any)["b"].([]any)[0] = 2.0

	assert.Equal(t, 1.0, src["a"].(map[string]any)["b"].([]any)[0])
	assert.Nil(t, cloneDoc(nil))
}
