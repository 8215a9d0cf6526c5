// Package models defines data structures shared by the uploader and its tools.
package models

import (
	"strings"
	"time"
)

// Product is one listing read from the input file.
type Product struct {
	Row          int      `json:"row"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Price        string   `json:"price"`
	Quantity     int      `json:"quantity"`
	Tags         []string `json:"tags"`
	CategoryPath string   `json:"category_path"`
	ImagePaths   []string `json:"image_paths"`
	ShopSection  string   `json:"shop_section"`
}

// CategoryLeaf returns the last segment of the category path.
func (p *Product) CategoryLeaf() string {
	path := p.CategoryPath
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == ':' || path[i] == '>' || path[i] == '/' {
			return strings.TrimSpace(path[i+1:])
		}
	}
	return strings.TrimSpace(path)
}

// ProductResult is the outcome of uploading a single row.
type ProductResult struct {
	Row        int       `json:"row"`
	Title      string    `json:"title"`
	Success    bool      `json:"success"`
	Reason     string    `json:"reason,omitempty"`
	ErrorType  string    `json:"error_type,omitempty"`
	Attempts   int       `json:"attempts"`
	Snapshots  []string  `json:"snapshots,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// RunResult holds the overall result of an upload run.
type RunResult struct {
	RunID        string
	Mode         string
	Results      []*ProductResult
	StartTime    time.Time
	EndTime      time.Time
	Attempted    int
	Succeeded    int
	Failed       int
	RetryCount   int
	ErrorsByType map[string]int
	Halted       bool
	HaltReason   string
}

// Elapsed returns the wall-clock duration of the run.
func (r *RunResult) Elapsed() time.Duration {
	if r.EndTime.IsZero() {
		return time.Since(r.StartTime)
	}
	return r.EndTime.Sub(r.StartTime)
}

// Add records a product outcome and updates the aggregate counters.
func (r *RunResult) Add(res *ProductResult) {
	if res == nil {
		return
	}
	r.Results = append(r.Results, res)
	r.Attempted++
	if res.Success {
		r.Succeeded++
		return
	}
	r.Failed++
	if r.ErrorsByType == nil {
		r.ErrorsByType = make(map[string]int)
	}
	r.ErrorsByType[res.ErrorType]++
}
