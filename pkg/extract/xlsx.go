package extract

import (
	"bytes"
	"strings"

	"github.com/xuri/excelize/v2"
)

// xlsxText renders every sheet as a Markdown table under a level-2 heading
// named after the sheet. The first row is the table header.
func xlsxText(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data), excelize.Options{UnzipSizeLimit: maxUnzippedBytes})
	if err != nil {
		return "", err
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", err
		}
		rows = trimEmptyRows(rows)
		if len(rows) == 0 {
			continue
		}

		width := 0
		for _, row := range rows {
			if len(row) > width {
				width = len(row)
			}
		}

		b.WriteString("## ")
		b.WriteString(sheet)
		b.WriteString("\n\n")
		writeRow(&b, rows[0], width)
		b.WriteString("|")
		for i := 0; i < width; i++ {
			b.WriteString(" --- |")
		}
		b.WriteString("\n")
		for _, row := range rows[1:] {
			writeRow(&b, row, width)
		}
		b.WriteString("\n")
	}

	return b.String(), nil
}

func writeRow(b *strings.Builder, row []string, width int) {
	b.WriteString("|")
	for i := 0; i < width; i++ {
		cell := ""
		if i < len(row) {
			cell = strings.ReplaceAll(strings.TrimSpace(row[i]), "|", `\|`)
			cell = strings.ReplaceAll(cell, "\n", " ")
		}
		b.WriteString(" ")
		b.WriteString(cell)
		b.WriteString(" |")
	}
	b.WriteString("\n")
}

func trimEmptyRows(rows [][]string) [][]string {
	out := rows[:0]
	for _, row := range rows {
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				out = append(out, row)
				break
			}
		}
	}
	return out
}
