package executor

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// roundTrip encodes v for a process worker and decodes it back. It fails when
// the decoded copy differs from v, so values the encoding cannot carry
// (unexported fields, concrete types behind interfaces, monotonic clock
// readings) are rejected instead of silently changed.
func roundTrip[T any](v T) ([]byte, T, error) {
	var decoded T

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, decoded, err
	}

	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, decoded, fmt.Errorf("decode: %w", err)
	}

	if !reflect.DeepEqual(v, decoded) {
		return nil, decoded, fmt.Errorf("%w: %T", ErrLossyTransfer, v)
	}

	return raw, decoded, nil
}
