package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"gymtrack/internal/domain"
)

// GetJSON decodes the value at key into v. ok is false when the key is absent.
func GetJSON(ctx context.Context, s domain.Store, key string, v interface{}) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

func SetJSON(ctx context.Context, s domain.Store, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return s.Set(ctx, key, data)
}

// ListJSON decodes every value of the store. Entries that fail to decode are
// passed to skip (when non-nil) and left out of the result.
func ListJSON[T any](ctx context.Context, s domain.Store, skip func(key string, err error)) ([]*T, error) {
	var out []*T
	err := s.Iterate(ctx, func(key string, value []byte) error {
		item := new(T)
		if err := json.Unmarshal(value, item); err != nil {
			if skip != nil {
				skip(key, err)
			}
			return nil
		}
		out = append(out, item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
