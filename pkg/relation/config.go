package relation

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// SQLiteConfig holds the embedded relationship store configuration.
type SQLiteConfig struct {
	Path string `toml:"path" split_words:"true"`

	// BusyTimeout 毫秒，写锁等待时间
	BusyTimeout int `toml:"busy_timeout" split_words:"true"`
}

// DSN returns the modernc.org/sqlite connection string.
func (c *SQLiteConfig) DSN() string {
	busy := c.BusyTimeout
	if busy <= 0 {
		busy = 5000
	}
	return fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(%d)",
		strings.TrimSpace(c.Path), busy)
}

// Validate checks SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return errors.New("path is required")
	}
	if c.BusyTimeout < 0 {
		return errors.New("busy_timeout must not be negative")
	}
	return nil
}
