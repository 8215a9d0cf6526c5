package locator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	// ErrDuplicateField is returned by Put when the field exists and overwrite is false.
	ErrDuplicateField = errors.New("locator: field already recorded")
	// ErrEmptyEntry is returned by Put for an entry without any locator.
	ErrEmptyEntry = errors.New("locator: entry has no locators")
)

// Entry is the persisted lookup strategy for one logical field.
type Entry struct {
	Primary  string   `json:"primary"`
	Fallback []string `json:"fallback"`
	XPath    string   `json:"xpath"`
	Tag      string   `json:"tag,omitempty"`
	Text     string   `json:"text,omitempty"`
}

// Candidates returns the locators in lookup order: primary, fallbacks, then
// the XPath alternate. Blank and repeated expressions are skipped.
func (e Entry) Candidates() []Locator {
	out := make([]Locator, 0, len(e.Fallback)+2)
	seen := make(map[Locator]struct{}, len(e.Fallback)+2)
	add := func(l Locator) {
		if l.IsZero() {
			return
		}
		if _, ok := seen[l]; ok {
			return
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}

	add(Parse(e.Primary))
	for _, fb := range e.Fallback {
		add(Parse(fb))
	}
	add(XPathOf(e.XPath))
	return out
}

func (e Entry) empty() bool {
	return len(e.Candidates()) == 0
}

// Store maps logical field names to entries. Insertion order is kept so the
// persisted file stays stable and the recorder can undo its last record.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry
	order   []string
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[string]Entry)}
}

// Get returns the entry for name.
func (s *Store) Get(name string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	return e, ok
}

// Has reports whether name is recorded.
func (s *Store) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// Put records an entry. An existing name is only replaced when overwrite is
// true; replacing keeps the name's original position.
func (s *Store) Put(name string, e Entry, overwrite bool) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("locator: field name cannot be empty")
	}
	if e.empty() {
		return fmt.Errorf("%w: %s", ErrEmptyEntry, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		if !overwrite {
			return fmt.Errorf("%w: %s", ErrDuplicateField, name)
		}
		s.entries[name] = e
		return nil
	}
	s.entries[name] = e
	s.order = append(s.order, name)
	return nil
}

// Delete removes name and reports whether it was present.
func (s *Store) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; !ok {
		return false
	}
	delete(s.entries, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Names returns field names in insertion order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of recorded fields.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Merge copies every entry of other into s, overwriting on conflict when
// overwrite is true. It returns the names that were skipped.
func (s *Store) Merge(other *Store, overwrite bool) []string {
	var skipped []string
	for _, name := range other.Names() {
		e, _ := other.Get(name)
		if err := s.Put(name, e, overwrite); err != nil {
			skipped = append(skipped, name)
		}
	}
	return skipped
}

// MarshalJSON writes entries in insertion order.
func (s *Store) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range s.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		e := s.entries[name]
		if e.Fallback == nil {
			e.Fallback = []string{}
		}
		val, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Decode reads a store document, keeping the file's key order. A repeated
// key in the document is an error.
func Decode(r io.Reader) (*Store, error) {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("read selector document: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("selector document must be a JSON object")
	}

	s := NewStore()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read selector key: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v in selector document", tok)
		}
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("decode selector %q: %w", name, err)
		}
		if err := s.Put(name, e, false); err != nil {
			return nil, err
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("read selector document end: %w", err)
	}
	return s, nil
}

// Load reads a selector document from path.
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open selectors %q: %w", path, err)
	}
	defer f.Close()

	s, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("load selectors %q: %w", path, err)
	}
	return s, nil
}

// Save writes the store as indented JSON, replacing path atomically.
func (s *Store) Save(path string) error {
	raw, err := s.MarshalJSON()
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return fmt.Errorf("indent selectors: %w", err)
	}
	pretty.WriteByte('\n')

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	tmp, err := os.CreateTemp(dir, ".selectors-*.json")
	if err != nil {
		return fmt.Errorf("create temp selectors file: %w", err)
	}
	if _, err := tmp.Write(pretty.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write selectors: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close selectors: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace %q: %w", path, err)
	}
	return nil
}
