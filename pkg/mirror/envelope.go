package mirror

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cuemby/eventsync/pkg/types"
)

// DecodeEnvelope decodes a message payload. A JSON object carrying both
// "type" and "version" is an envelope; any other object is a raw payload,
// reported with ok false and the payload itself as Payload.
func DecodeEnvelope(data []byte) (env *types.Envelope, ok bool, err error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, false, fmt.Errorf("payload is not a JSON object: %w", err)
	}

	_, hasType := probe["type"]
	_, hasVersion := probe["version"]
	if !hasType || !hasVersion {
		return &types.Envelope{Type: types.EnvelopeSnapshot, Payload: data}, false, nil
	}

	env = &types.Envelope{}
	if err := json.Unmarshal(data, env); err != nil {
		return nil, true, fmt.Errorf("malformed envelope: %w", err)
	}
	switch env.Type {
	case types.EnvelopeSnapshot, types.EnvelopeDelta:
	default:
		return nil, true, fmt.Errorf("unknown envelope type %q", env.Type)
	}
	if len(env.Payload) == 0 {
		return nil, true, errors.New("envelope has no payload")
	}
	return env, true, nil
}

// decodeObject decodes a JSON object into a generic document
func decodeObject(data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errors.New("payload is null")
	}
	return doc, nil
}

// mergePatch applies an RFC 7386 merge patch to target in place
func mergePatch(target, patch map[string]any) map[string]any {
	if target == nil {
		target = make(map[string]any)
	}
	for k, pv := range patch {
		if pv == nil {
			delete(target, k)
			continue
		}
		po, isObject := pv.(map[string]any)
		if !isObject {
			target[k] = cloneValue(pv)
			continue
		}
		to, _ := target[k].(map[string]any)
		target[k] = mergePatch(to, po)
	}
	return target
}

// cloneValue deep-copies a decoded JSON value
func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}

func cloneDoc(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	return cloneValue(doc).(map[string]any)
}
