// Package journal persists the outcome of every participant command.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gridsingularity/d3a/core/events"
)

// Record captures one command outcome.
type Record struct {
	Timestamp time.Time       `json:"timestamp"`
	Device    string          `json:"device"`
	Slot      string          `json:"slot"`
	Command   string          `json:"command"`
	Stage     string          `json:"stage"`
	Status    string          `json:"status"`
	Error     string          `json:"error,omitempty"`
	Arguments map[string]any  `json:"arguments,omitempty"`
	Response  json.RawMessage `json:"response,omitempty"`
}

// FromEvent converts a command event into a record.
func FromEvent(e events.CommandEvent) Record {
	r := Record{
		Timestamp: e.Time,
		Device:    e.Device,
		Command:   e.Command,
		Stage:     e.Stage,
		Status:    e.Status,
		Error:     e.Error,
		Arguments: e.Arguments,
		Response:  e.Response,
	}
	if e.Slot != 0 {
		r.Slot = e.Slot.String()
	}
	return r
}

// Query defines filters for retrieving records. Zero fields match all.
type Query struct {
	Start   time.Time
	End     time.Time
	Device  string
	Command string
	Status  string
}

// Matches reports whether r passes the filters.
func (q Query) Matches(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.Device != "" && r.Device != q.Device {
		return false
	}
	if q.Command != "" && r.Command != q.Command {
		return false
	}
	if q.Status != "" && r.Status != q.Status {
		return false
	}
	return true
}

// Store persists Records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// Config selects and configures a store.
type Config struct {
	Backend    string `json:"backend"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// Enabled reports whether a journal is configured.
func (c Config) Enabled() bool { return c.Backend != "" && c.Backend != "none" }

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Backend {
	case "", "none":
		return nil
	case "jsonl", "sqlite":
	default:
		return fmt.Errorf("unknown journal backend %q", c.Backend)
	}
	if c.Path == "" {
		return fmt.Errorf("journal path required for backend %s", c.Backend)
	}
	if c.MaxSizeMB < 0 || c.MaxBackups < 0 || c.MaxAgeDays < 0 {
		return fmt.Errorf("journal rotation settings must be >= 0")
	}
	return nil
}

// Open creates the store described by cfg. A jsonl backend with MaxSizeMB
// set rotates its file.
func Open(cfg Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case "jsonl":
		if cfg.MaxSizeMB > 0 {
			return NewRotatingJSONLStore(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
		}
		return NewJSONLStore(cfg.Path)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	}
	return nil, fmt.Errorf("journal disabled")
}
