package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"
)

type jsonDocument struct {
	Title      string    `json:"title,omitempty"`
	ExportedAt time.Time `json:"exported_at"`
	Widgets    []Widget  `json:"widgets"`
}

func encodeJSON(widgets []Widget, opts Options) ([]byte, error) {
	doc := jsonDocument{
		Title:      opts.Title,
		ExportedAt: time.Now(),
		Widgets:    widgets,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return data, nil
}

// encodeCSV writes one section per widget: a title row, the header, the data
// rows, and a blank separator line.
func encodeCSV(widgets []Widget) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	for i, widget := range widgets {
		if i > 0 {
			if err := w.Write([]string{}); err != nil {
				return nil, fmt.Errorf("encode csv: %w", err)
			}
		}
		if err := w.Write([]string{widget.Title}); err != nil {
			return nil, fmt.Errorf("encode csv: %w", err)
		}
		if len(widget.Columns) > 0 {
			if err := w.Write(widget.Columns); err != nil {
				return nil, fmt.Errorf("encode csv: %w", err)
			}
		}
		for _, row := range widget.Rows {
			if err := w.Write(row); err != nil {
				return nil, fmt.Errorf("encode csv: %w", err)
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("encode csv: %w", err)
	}
	return buf.Bytes(), nil
}
