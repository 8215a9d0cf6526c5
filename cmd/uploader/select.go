package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aluiziolira/listing-uploader/catalog"
)

// selectRecords picks the rows a run processes. Single mode takes one row by
// 0-based index or by title (the first row when product is empty); bulk mode
// takes every row from start.
func selectRecords(cat *catalog.Catalog, mode, product string, start int) ([]catalog.Record, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "single":
		product = strings.TrimSpace(product)
		if product == "" {
			product = "0"
		}
		var (
			rec catalog.Record
			err error
		)
		if index, convErr := strconv.Atoi(product); convErr == nil {
			rec, err = cat.At(index)
		} else {
			rec, err = cat.ByTitle(product)
		}
		if err != nil {
			return nil, err
		}
		return []catalog.Record{rec}, nil
	case "bulk":
		return cat.From(start)
	default:
		return nil, fmt.Errorf("unknown mode %q (want single or bulk)", mode)
	}
}
