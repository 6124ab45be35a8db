package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/RandomArray/SpectraScribe/internal/chat"
)

// Archive appends durable messages to per-room, per-day markdown files,
// an operator-readable record alongside the database.
type Archive struct {
	dir string
	mu  sync.Mutex
}

func NewArchive(dir string) *Archive {
	return &Archive{dir: dir}
}

func (a *Archive) Append(m chat.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", a.dir, err)
	}

	ts := time.UnixMilli(m.Timestamp)
	path := filepath.Join(a.dir, fmt.Sprintf("%s-%s.md", m.Room, ts.Format("2006-01-02")))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := fmt.Fprintln(f, formatMarkdown(m, ts)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return nil
}

func formatMarkdown(m chat.Message, ts time.Time) string {
	clock := ts.Format("15:04:05")
	switch {
	case m.Source == chat.SourceSystem:
		return fmt.Sprintf("*[%s] %s*", clock, strings.TrimSpace(m.Text))
	case m.Type == chat.TypeImage:
		return fmt.Sprintf("**[%s] %s:** ![image](%s)", clock, m.Username, m.MediaURL)
	default:
		return fmt.Sprintf("**[%s] %s:** %s", clock, m.Username, strings.TrimSpace(m.Text))
	}
}
