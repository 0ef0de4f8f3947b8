package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// encodeExcel writes one worksheet per widget.
func encodeExcel(widgets []Widget, opts Options) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("excel style: %w", err)
	}

	for i, widget := range widgets {
		sheet := sheetName(widget, i)
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet); err != nil {
				return nil, fmt.Errorf("excel sheet: %w", err)
			}
		} else {
			if _, err := f.NewSheet(sheet); err != nil {
				return nil, fmt.Errorf("excel sheet: %w", err)
			}
		}

		row := 1
		if len(widget.Columns) > 0 {
			if err := f.SetSheetRow(sheet, cell(1, row), &widget.Columns); err != nil {
				return nil, fmt.Errorf("excel header: %w", err)
			}
			end, _ := excelize.CoordinatesToCellName(len(widget.Columns), row)
			_ = f.SetCellStyle(sheet, cell(1, row), end, headerStyle)
			row++
		}
		for _, r := range widget.Rows {
			values := r
			if err := f.SetSheetRow(sheet, cell(1, row), &values); err != nil {
				return nil, fmt.Errorf("excel row: %w", err)
			}
			row++
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

// sheetName keeps sheet names unique and within excel's 31-char limit.
func sheetName(w Widget, index int) string {
	name := w.Title
	if name == "" {
		name = w.ID
	}
	if name == "" {
		name = fmt.Sprintf("Widget %d", index+1)
	}
	if len(name) > 28 {
		name = name[:28]
	}
	return fmt.Sprintf("%s %d", name, index+1)
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}
