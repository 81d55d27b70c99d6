package redis

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/core/port"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func parseTimePtr(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := parseTime(value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseBool(value string) bool {
	return value == "1"
}

func encodeBytes(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeBytes(value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	return base64.RawURLEncoding.DecodeString(value)
}

// requireFresh turns a non-fresh cache answer into a degraded dependency error.
func requireFresh[T any](op string, res port.CacheResult[T]) error {
	if res.Outcome == port.CacheFresh {
		return nil
	}
	if res.Err != nil {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrDependencyDegraded, res.Err)
	}
	return fmt.Errorf("%s: %w", op, domain.ErrDependencyDegraded)
}
