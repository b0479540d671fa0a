package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// The dashboard API is inconsistent about response framing: depending
// on the endpoint (and its version) a list comes back as
// {"success":true,"data":[...]}, as a bare array, or keyed by resource
// name like {"threads":[...]}. All three are normalized here, once,
// instead of per call site.

var ErrUnrecognizedShape = errors.New("unrecognized response shape")

type envelope struct {
	Success *bool           `json:"success"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *envelope) failed() error {
	if e.Success == nil || *e.Success {
		return nil
	}
	reason := e.Error
	if reason == "" {
		reason = e.Message
	}
	if reason == "" {
		reason = "request failed"
	}
	return fmt.Errorf("api error: %s", reason)
}

// decodeList normalizes a list response. key names the resource field
// used by the keyed form ("threads", "messages", "users").
func decodeList[T any](body []byte, key string) ([]T, error) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var out []T
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, fmt.Errorf("decode %s list: %w", key, err)
		}
		return out, nil
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode %s envelope: %w", key, err)
	}
	if err := env.failed(); err != nil {
		return nil, err
	}
	if env.Data != nil {
		var out []T
		if err := json.Unmarshal(env.Data, &out); err != nil {
			return nil, fmt.Errorf("decode %s data: %w", key, err)
		}
		return out, nil
	}

	var keyed map[string]json.RawMessage
	if err := json.Unmarshal(body, &keyed); err != nil {
		return nil, fmt.Errorf("decode %s keyed form: %w", key, err)
	}
	if raw, ok := keyed[key]; ok {
		var out []T
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("decode %s key: %w", key, err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s: %w", key, ErrUnrecognizedShape)
}

// decodeObject normalizes a single-object response: enveloped, keyed,
// or bare.
func decodeObject[T any](body []byte, key string) (*T, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode %s envelope: %w", key, err)
	}
	if err := env.failed(); err != nil {
		return nil, err
	}
	if env.Data != nil {
		var out T
		if err := json.Unmarshal(env.Data, &out); err != nil {
			return nil, fmt.Errorf("decode %s data: %w", key, err)
		}
		return &out, nil
	}

	var keyed map[string]json.RawMessage
	if err := json.Unmarshal(body, &keyed); err == nil {
		if raw, ok := keyed[key]; ok {
			var out T
			if err := json.Unmarshal(raw, &out); err != nil {
				return nil, fmt.Errorf("decode %s key: %w", key, err)
			}
			return &out, nil
		}
	}

	// Bare object.
	var out T
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &out, nil
}
