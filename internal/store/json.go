package store

import (
	"encoding/json"
	"fmt"
	"time"
)

func unixToTime(epoch int64) time.Time {
	if epoch == 0 {
		return time.Time{}
	}
	return time.Unix(epoch, 0).UTC()
}

func nullableUnix(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.Unix()
}

func marshalStrings(ss []string) (string, error) {
	if len(ss) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(ss)
	if err != nil {
		return "", fmt.Errorf("store: marshal string slice: %w", err)
	}
	return string(data), nil
}

func unmarshalStrings(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("store: unmarshal string slice: %w", err)
	}
	return out, nil
}

func marshalJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("store: marshal json: %w", err)
	}
	return string(data), nil
}

func unmarshalJSON(raw string, v interface{}) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("store: unmarshal json: %w", err)
	}
	return nil
}
