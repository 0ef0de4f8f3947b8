// Package export runs asynchronous, cancellable export jobs that serialize
// selected dashboard widgets into downloadable artifacts.
package export

import "time"

// Format identifies the artifact type produced by a job.
type Format string

const (
	FormatPNG   Format = "png"
	FormatPDF   Format = "pdf"
	FormatJSON  Format = "json"
	FormatCSV   Format = "csv"
	FormatExcel Format = "excel"
	FormatSVG   Format = "svg"
)

// Valid reports whether the format is one the queue can produce.
func (f Format) Valid() bool {
	switch f {
	case FormatPNG, FormatPDF, FormatJSON, FormatCSV, FormatExcel, FormatSVG:
		return true
	}
	return false
}

// Extension returns the artifact filename extension.
func (f Format) Extension() string {
	if f == FormatExcel {
		return "xlsx"
	}
	return string(f)
}

// Status is the job state machine: pending -> processing -> completed|error.
// Terminal jobs are immutable except for deletion.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Options carries format-specific settings for a job.
type Options struct {
	Title       string `json:"title,omitempty"`
	PageSize    string `json:"page_size,omitempty"`    // a4, letter
	Orientation string `json:"orientation,omitempty"`  // portrait, landscape
	Quality     int    `json:"quality,omitempty"`      // 0-100, raster formats
}

// Job is one export unit of work. The queue exclusively owns job objects;
// callers only ever see copies.
type Job struct {
	ID        string     `json:"id"`
	Format    Format     `json:"format"`
	Status    Status     `json:"status"`
	Progress  int        `json:"progress"` // 0-100, coarse milestones
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Error     string     `json:"error,omitempty"`
	FileName  string     `json:"file_name,omitempty"`
	// FilePath is the download handle: the artifact on disk, present only
	// once the job completes. Removing the job deletes it.
	FilePath string `json:"file_path,omitempty"`

	WidgetIDs []string `json:"widget_ids"`
	Options   Options  `json:"options"`
}

// Widget is the exportable view of one dashboard panel: a titled table,
// optionally with numeric values for chart-like rendering. Producing these
// from live state is the caller's concern; the queue only serializes them.
type Widget struct {
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
	// Values drives bar rendering in raster/vector formats; empty means
	// table-only output. One value per row when present.
	Values []float64 `json:"values,omitempty"`
}

// Source resolves widget IDs to exportable widget data at job start time.
type Source func(ids []string) ([]Widget, error)
