// Package journal records the outcome of every dispatched message.
package journal

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/wotlink/internal/config"
)

// Entry is one dispatched message outcome. ID is assigned by the journal.
type Entry struct {
	ID       int64         `json:"id"`
	Kind     string        `json:"kind"`
	Port     uint16        `json:"port"`
	Bytes    int           `json:"bytes"`
	Attempts int           `json:"attempts"`
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
	At       time.Time     `json:"at"`
}

type Journal interface {
	Append(e Entry) error
	// Recent returns up to limit entries, newest first.
	Recent(limit int) ([]Entry, error)
	Close() error
}

// Open builds the journal named by cfg.Driver.
func Open(cfg config.JournalConfig) (Journal, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", config.JournalMemory:
		return NewMemory(cfg.Capacity), nil
	case config.JournalSQLite:
		return OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("journal: unknown driver %q", cfg.Driver)
	}
}
