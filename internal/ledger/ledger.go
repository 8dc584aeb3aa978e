package ledger

import (
	"context"
	"errors"
	"strings"
	"time"
)

const DefaultPlatform = "unknown"

// ErrEmptyKey is returned when a key normalizes to the empty string.
var ErrEmptyKey = errors.New("key required")

// Record is one published entry. Duplicates are allowed; lookups return the
// first record whose key matches.
type Record struct {
	Key         string `json:"key"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Platform    string `json:"platform"`
	PublishedAt string `json:"publishedAt"`
}

// Entry is the caller-supplied part of a Record.
type Entry struct {
	Key      string `json:"key"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Platform string `json:"platform"`
}

// Store is an append-only duplication ledger.
type Store interface {
	// Check returns the first record for key, or nil when none exists.
	Check(ctx context.Context, key string) (*Record, error)
	Add(ctx context.Context, entry Entry) (Record, error)
	Close() error
}

// Normalize trims surrounding whitespace and lowercases the key.
func Normalize(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func newRecord(entry Entry, now time.Time) (Record, error) {
	key := Normalize(entry.Key)
	if key == "" {
		return Record{}, ErrEmptyKey
	}
	platform := strings.TrimSpace(entry.Platform)
	if platform == "" {
		platform = DefaultPlatform
	}
	return Record{
		Key:         key,
		Title:       entry.Title,
		URL:         entry.URL,
		Platform:    platform,
		PublishedAt: now.UTC().Format(time.RFC3339Nano),
	}, nil
}
