package harvest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CheckpointLayout is the stored form of the last successful crawl date.
const CheckpointLayout = "2006-1-2"

// DefaultCheckpointKey is the well-known artifact key of the bookmark.
const DefaultCheckpointKey = "last-crawl-date.txt"

// Checkpoints reads and advances the "last successful crawl" date.
type Checkpoints struct {
	store ArtifactStore
	key   string
	loc   *time.Location
}

// NewCheckpoints constructs a Checkpoints bound to key. Dates are interpreted
// in loc (time.Local when nil).
func NewCheckpoints(store ArtifactStore, key string, loc *time.Location) (*Checkpoints, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if strings.TrimSpace(key) == "" {
		key = DefaultCheckpointKey
	}
	if loc == nil {
		loc = time.Local
	}
	return &Checkpoints{store: store, key: key, loc: loc}, nil
}

// Key returns the artifact key of the bookmark.
func (c *Checkpoints) Key() string { return c.key }

// Load returns the stored date. ok is false when no checkpoint exists yet.
func (c *Checkpoints) Load(ctx context.Context) (time.Time, bool, error) {
	data, err := c.store.Read(ctx, c.key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, &StorageError{Op: "read", Key: c.key, Err: err}
	}
	date, err := ParseCheckpoint(string(data), c.loc)
	if err != nil {
		return time.Time{}, false, err
	}
	return date, true, nil
}

// Advance stores to, unless the stored date is already later. It returns the
// date that is stored afterwards.
func (c *Checkpoints) Advance(ctx context.Context, to time.Time) (time.Time, error) {
	current, ok, err := c.Load(ctx)
	if err != nil {
		return time.Time{}, err
	}
	to = StartOfDay(to, c.loc)
	if ok && current.After(to) {
		return current, nil
	}
	if _, err := c.store.Write(ctx, c.key, "text/plain; charset=utf-8", []byte(FormatCheckpoint(to))); err != nil {
		return time.Time{}, &StorageError{Op: "write", Key: c.key, Err: err}
	}
	return to, nil
}

// ParseCheckpoint parses a stored checkpoint value.
func ParseCheckpoint(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	date, err := time.ParseInLocation(CheckpointLayout, strings.TrimSpace(raw), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse checkpoint %q: %w", raw, err)
	}
	return date, nil
}

// FormatCheckpoint renders a date in the stored form.
func FormatCheckpoint(t time.Time) string {
	return t.Format(CheckpointLayout)
}

// StartOfDay truncates t to midnight in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Yesterday returns the start of the day before t in loc.
func Yesterday(t time.Time, loc *time.Location) time.Time {
	return StartOfDay(t, loc).AddDate(0, 0, -1)
}
