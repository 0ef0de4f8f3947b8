package export

import (
	"bytes"
	"fmt"
	"html"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	"github.com/go-pdf/fpdf"
)

// Page dimensions in pixels at the base quality. Quality (0-100) scales the
// raster output; vector formats ignore it.
func pageDimensions(opts Options) (int, int) {
	w, h := 794, 1123 // a4 @ 96dpi
	if strings.EqualFold(opts.PageSize, "letter") {
		w, h = 816, 1056
	}
	if strings.EqualFold(opts.Orientation, "landscape") {
		w, h = h, w
	}
	return w, h
}

func rasterScale(opts Options) float64 {
	q := opts.Quality
	if q <= 0 || q > 100 {
		q = 80
	}
	// 50% quality renders at half size, 100% at full.
	return 0.5 + float64(q)/200
}

var barPalette = []color.RGBA{
	{R: 0x4e, G: 0x79, B: 0xa7, A: 0xff},
	{R: 0xf2, G: 0x8e, B: 0x2b, A: 0xff},
	{R: 0x59, G: 0xa1, B: 0x4f, A: 0xff},
	{R: 0xe1, G: 0x57, B: 0x59, A: 0xff},
}

// renderSVG produces a vector page: one block per widget with its title and
// either horizontal bars (when numeric values are present) or a text table.
func renderSVG(widgets []Widget, opts Options) ([]byte, error) {
	width, height := pageDimensions(opts)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`+"\n",
		width, height, width, height)
	fmt.Fprintf(&buf, `<rect width="%d" height="%d" fill="#ffffff"/>`+"\n", width, height)

	y := 40
	if opts.Title != "" {
		fmt.Fprintf(&buf, `<text x="24" y="%d" font-family="sans-serif" font-size="20" font-weight="bold">%s</text>`+"\n",
			y, html.EscapeString(opts.Title))
		y += 36
	}

	for wi, widget := range widgets {
		fmt.Fprintf(&buf, `<text x="24" y="%d" font-family="sans-serif" font-size="16" font-weight="bold">%s</text>`+"\n",
			y, html.EscapeString(widget.Title))
		y += 24

		if len(widget.Values) > 0 {
			maxVal := 0.0
			for _, v := range widget.Values {
				if v > maxVal {
					maxVal = v
				}
			}
			if maxVal <= 0 {
				maxVal = 1
			}
			c := barPalette[wi%len(barPalette)]
			for ri, v := range widget.Values {
				barW := int(float64(width-200) * (v / maxVal))
				if barW < 2 {
					barW = 2
				}
				label := ""
				if ri < len(widget.Rows) && len(widget.Rows[ri]) > 0 {
					label = widget.Rows[ri][0]
				}
				fmt.Fprintf(&buf, `<text x="24" y="%d" font-family="sans-serif" font-size="12">%s</text>`+"\n",
					y+12, html.EscapeString(label))
				fmt.Fprintf(&buf, `<rect x="160" y="%d" width="%d" height="14" fill="#%02x%02x%02x"/>`+"\n",
					y, barW, c.R, c.G, c.B)
				fmt.Fprintf(&buf, `<text x="%d" y="%d" font-family="sans-serif" font-size="11">%.4g</text>`+"\n",
					164+barW, y+12, v)
				y += 20
			}
		} else {
			if len(widget.Columns) > 0 {
				fmt.Fprintf(&buf, `<text x="24" y="%d" font-family="monospace" font-size="12" font-weight="bold">%s</text>`+"\n",
					y+12, html.EscapeString(strings.Join(widget.Columns, "  |  ")))
				y += 18
			}
			for _, row := range widget.Rows {
				fmt.Fprintf(&buf, `<text x="24" y="%d" font-family="monospace" font-size="12">%s</text>`+"\n",
					y+12, html.EscapeString(strings.Join(row, "  |  ")))
				y += 18
			}
		}
		y += 24
	}

	buf.WriteString("</svg>\n")
	return buf.Bytes(), nil
}

// renderPNG rasterizes widget values as horizontal bar groups on an
// offscreen surface. The GUI's canvas primitives are not replicated here;
// this is the headless rendition of the same page geometry.
func renderPNG(widgets []Widget, opts Options) ([]byte, error) {
	scale := rasterScale(opts)
	pw, ph := pageDimensions(opts)
	width := int(float64(pw) * scale)
	height := int(float64(ph) * scale)

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	y := int(30 * scale)
	rowH := int(20 * scale)
	if rowH < 4 {
		rowH = 4
	}

	for wi, widget := range widgets {
		c := barPalette[wi%len(barPalette)]

		// Title band
		fillRect(img, int(24*scale), y, width-int(48*scale), rowH/2, color.RGBA{R: 0xe5, G: 0xe7, B: 0xeb, A: 0xff})
		y += rowH

		values := widget.Values
		if len(values) == 0 {
			// Table-only widgets render as uniform row markers.
			values = make([]float64, len(widget.Rows))
			for i := range values {
				values[i] = 1
			}
		}
		maxVal := 0.0
		for _, v := range values {
			if v > maxVal {
				maxVal = v
			}
		}
		if maxVal <= 0 {
			maxVal = 1
		}

		for _, v := range values {
			if y+rowH > height {
				break
			}
			barW := int(float64(width-int(200*scale)) * (v / maxVal))
			if barW < 2 {
				barW = 2
			}
			fillRect(img, int(160*scale), y, barW, rowH-rowH/4, c)
			y += rowH
		}
		y += rowH
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func fillRect(img *image.RGBA, x, y, w, h int, c color.Color) {
	if w <= 0 || h <= 0 {
		return
	}
	draw.Draw(img, image.Rect(x, y, x+w, y+h), image.NewUniform(c), image.Point{}, draw.Src)
}

// renderPDF lays each widget out as a titled table.
func renderPDF(widgets []Widget, opts Options) ([]byte, error) {
	orientation := "P"
	if strings.EqualFold(opts.Orientation, "landscape") {
		orientation = "L"
	}
	size := "A4"
	if strings.EqualFold(opts.PageSize, "letter") {
		size = "Letter"
	}

	pdf := fpdf.New(orientation, "mm", size, "")
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()

	if opts.Title != "" {
		pdf.SetFont("Helvetica", "B", 16)
		pdf.CellFormat(0, 10, opts.Title, "", 1, "L", false, 0, "")
		pdf.Ln(2)
	}

	pageW, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	usable := pageW - left - right

	for _, widget := range widgets {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, 8, widget.Title, "", 1, "L", false, 0, "")

		cols := len(widget.Columns)
		if cols == 0 {
			for _, row := range widget.Rows {
				if len(row) > cols {
					cols = len(row)
				}
			}
		}
		if cols == 0 {
			pdf.Ln(4)
			continue
		}
		colW := usable / float64(cols)

		if len(widget.Columns) > 0 {
			pdf.SetFont("Helvetica", "B", 9)
			for _, col := range widget.Columns {
				pdf.CellFormat(colW, 6, col, "1", 0, "L", false, 0, "")
			}
			pdf.Ln(-1)
		}

		pdf.SetFont("Helvetica", "", 9)
		for _, row := range widget.Rows {
			for i := 0; i < cols; i++ {
				v := ""
				if i < len(row) {
					v = row[i]
				}
				pdf.CellFormat(colW, 6, v, "1", 0, "L", false, 0, "")
			}
			pdf.Ln(-1)
		}
		pdf.Ln(6)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
