// Package catalog reads the product input file into per-row records,
// separating rows that can be uploaded from rows that must be rejected.
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/listing-uploader/models"
	"github.com/aluiziolira/listing-uploader/parser"
)

// Column names of the input file.
const (
	ColTitle        = "title"
	ColDescription  = "description"
	ColPrice        = "price"
	ColQuantity     = "quantity"
	ColTags         = "tags"
	ColCategoryPath = "category_path"
	ColImagePaths   = "image_paths"
	ColShopSection  = "shop_section"
)

var requiredColumns = []string{ColTitle, ColDescription, ColPrice}

var (
	// ErrMissingColumn is returned when the header lacks a required column.
	ErrMissingColumn = errors.New("catalog: missing required column")
	// ErrDuplicateTitle rejects a row repeating an earlier row's title.
	ErrDuplicateTitle = errors.New("catalog: duplicate title")
	// ErrNoSuchProduct is returned by the selection helpers.
	ErrNoSuchProduct = errors.New("catalog: no such product")
)

// RowError explains why a row was rejected.
type RowError struct {
	Row   int
	Title string
	Err   error
}

func (e *RowError) Error() string {
	if e.Title != "" {
		return fmt.Sprintf("row %d (%s): %v", e.Row, e.Title, e.Err)
	}
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// Record is one data row: either a product ready for upload or the reason
// it was rejected.
type Record struct {
	Row      int
	Product  *models.Product
	Err      *RowError
	Warnings []string
}

// Title returns the row's title, if any was read.
func (r Record) Title() string {
	if r.Product != nil {
		return r.Product.Title
	}
	if r.Err != nil {
		return r.Err.Title
	}
	return ""
}

// OK reports whether the row can be uploaded.
func (r Record) OK() bool {
	return r.Err == nil && r.Product != nil
}

// Catalog is the parsed input file in row order.
type Catalog struct {
	Records []Record
}

// Products returns the accepted products in row order.
func (c *Catalog) Products() []*models.Product {
	out := make([]*models.Product, 0, len(c.Records))
	for _, rec := range c.Records {
		if rec.OK() {
			out = append(out, rec.Product)
		}
	}
	return out
}

// Rejected returns the row errors in row order.
func (c *Catalog) Rejected() []*RowError {
	var out []*RowError
	for _, rec := range c.Records {
		if rec.Err != nil {
			out = append(out, rec.Err)
		}
	}
	return out
}

// At returns the record at the 0-based position index.
func (c *Catalog) At(index int) (Record, error) {
	if index < 0 || index >= len(c.Records) {
		return Record{}, fmt.Errorf("%w: index %d out of range [0, %d)", ErrNoSuchProduct, index, len(c.Records))
	}
	return c.Records[index], nil
}

// ByTitle returns the first record whose title matches, ignoring case.
func (c *Catalog) ByTitle(title string) (Record, error) {
	want := strings.TrimSpace(title)
	for _, rec := range c.Records {
		if strings.EqualFold(rec.Title(), want) {
			return rec, nil
		}
	}
	return Record{}, fmt.Errorf("%w: title %q", ErrNoSuchProduct, title)
}

// From returns the records starting at the 0-based position start.
func (c *Catalog) From(start int) ([]Record, error) {
	if start < 0 || start > len(c.Records) {
		return nil, fmt.Errorf("%w: start index %d out of range [0, %d]", ErrNoSuchProduct, start, len(c.Records))
	}
	return c.Records[start:], nil
}

// Options tunes the loader.
type Options struct {
	// DuplicateWindow is how many recent titles are remembered for the
	// duplicate guard. Zero disables it.
	DuplicateWindow int
	// DefaultTags are used for rows with an empty tags cell.
	DefaultTags []string
	// DefaultCategoryPath is used for rows with an empty category_path cell.
	DefaultCategoryPath string
}

// DefaultOptions returns the loader defaults.
func DefaultOptions() Options {
	return Options{DuplicateWindow: 4096}
}

// Load reads the input file at path.
func Load(path string, opts Options) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input %q: %w", path, err)
	}
	defer f.Close()

	c, err := Read(f, opts)
	if err != nil {
		return nil, fmt.Errorf("load input %q: %w", path, err)
	}
	return c, nil
}

// Read parses a CSV document with a header row. Header names are matched
// case-insensitively. A malformed data row is recorded as rejected and
// reading continues; a missing required column fails the whole load.
func Read(r io.Reader, opts Options) (*Catalog, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("input must include a header row")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	index := headerIndex(header)
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	var seen *lru.Cache[string, int]
	if opts.DuplicateWindow > 0 {
		seen, err = lru.New[string, int](opts.DuplicateWindow)
		if err != nil {
			return nil, fmt.Errorf("duplicate guard: %w", err)
		}
	}

	c := &Catalog{}
	for row := 1; ; row++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return nil, fmt.Errorf("read row %d: %w", row, err)
			}
			c.Records = append(c.Records, Record{Row: row, Err: &RowError{Row: row, Err: err}})
			continue
		}
		if blank(fields) {
			row--
			continue
		}

		rec := buildRecord(row, fields, index, opts)
		if rec.OK() && seen != nil {
			key := strings.ToLower(rec.Product.Title)
			if first, ok := seen.Get(key); ok {
				rec = Record{Row: row, Err: &RowError{
					Row:   row,
					Title: rec.Product.Title,
					Err:   fmt.Errorf("%w: same as row %d", ErrDuplicateTitle, first),
				}}
			} else {
				seen.Add(key, row)
			}
		}
		if rec.Err != nil {
			slog.Warn("row rejected", slog.Int("row", row), slog.Any("error", rec.Err.Err))
		}
		for _, w := range rec.Warnings {
			slog.Warn("row adjusted", slog.Int("row", row), slog.String("warning", w))
		}
		c.Records = append(c.Records, rec)
	}

	slog.Info("input loaded",
		slog.Int("rows", len(c.Records)),
		slog.Int("accepted", len(c.Products())),
		slog.Int("rejected", len(c.Rejected())),
	)
	return c, nil
}

func headerIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		key := strings.ToLower(strings.TrimSpace(h))
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}
	return index
}

func blank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func buildRecord(row int, fields []string, index map[string]int, opts Options) Record {
	cell := func(col string) string {
		i, ok := index[col]
		if !ok || i >= len(fields) {
			return ""
		}
		return strings.TrimSpace(fields[i])
	}

	p := &models.Product{
		Row:          row,
		Title:        cell(ColTitle),
		Description:  cell(ColDescription),
		CategoryPath: cell(ColCategoryPath),
		ShopSection:  cell(ColShopSection),
	}
	rec := Record{Row: row}
	reject := func(err error) Record {
		rec.Product = nil
		rec.Err = &RowError{Row: row, Title: p.Title, Err: err}
		return rec
	}

	price, err := parser.NormalizePrice(cell(ColPrice))
	if err != nil {
		return reject(err)
	}
	p.Price = price

	qty, err := parser.ParseQuantity(cell(ColQuantity))
	if err != nil {
		return reject(err)
	}
	p.Quantity = qty

	tagCell := cell(ColTags)
	if tagCell == "" && len(opts.DefaultTags) > 0 {
		tagCell = strings.Join(opts.DefaultTags, ",")
	}
	tags, dropped := parser.SplitTags(tagCell)
	p.Tags = tags
	if dropped > 0 {
		rec.Warnings = append(rec.Warnings, fmt.Sprintf("dropped %d tags (limit %d, max length %d, duplicates removed)", dropped, parser.MaxTags, parser.MaxTagLength))
	}

	if p.CategoryPath == "" {
		p.CategoryPath = opts.DefaultCategoryPath
	}

	images, dropped := parser.SplitImagePaths(cell(ColImagePaths))
	p.ImagePaths = images
	if dropped > 0 {
		rec.Warnings = append(rec.Warnings, fmt.Sprintf("dropped %d images past the limit of %d", dropped, parser.MaxImages))
	}

	if err := parser.ValidateProduct(p); err != nil {
		return reject(err)
	}
	rec.Product = p
	return rec
}
