package uploader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

// Screenshotter captures the current page.
type Screenshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// Snapshots writes diagnostic screenshots as
// <dir>/error_<label>_<timestamp>.png.
type Snapshots struct {
	dir string
	now func() time.Time
}

// NewSnapshots writes snapshots into dir.
func NewSnapshots(dir string) *Snapshots {
	return &Snapshots{dir: dir, now: time.Now}
}

// Capture screenshots the page and returns the written path.
func (s *Snapshots) Capture(ctx context.Context, page Screenshotter, label string) (string, error) {
	png, err := page.Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("capture snapshot: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	name := fmt.Sprintf("error_%s_%s.png", slug(label), s.now().Format("20060102_150405"))
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}

// slug keeps letters, digits, '-' and '_', folds the rest to '_' and caps
// the length so titles make usable file names.
func slug(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.TrimSpace(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-':
			b.WriteRune(unicode.ToLower(r))
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteByte('_')
			lastUnderscore = true
		}
		if b.Len() >= 48 {
			break
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "page"
	}
	return out
}
