package handler

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/amqp-jobs/internal/api/storage"
)

// DecodeFailedJobCursor parses a cursor produced by EncodeFailedJobCursor.
// An empty string means the first page.
func DecodeFailedJobCursor(cursorStr string) (*storage.FailedJobCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	nanos, id, ok := strings.Cut(string(decoded), "|")
	if !ok || id == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	failedAt, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid failed_at in cursor: %w", err)
	}

	return &storage.FailedJobCursor{
		FailedAt: time.Unix(0, failedAt).UTC(),
		ID:       id,
	}, nil
}

func EncodeFailedJobCursor(cursor *storage.FailedJobCursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.FailedAt.UnixNano(), cursor.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(cs))
}
