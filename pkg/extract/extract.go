// Package extract turns uploaded files into plain text or Markdown that the
// chunker understands.
package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/xhad/askdoc/internal/types"
)

type Format string

// maxUnzippedBytes caps the decompressed size of DOCX and XLSX parts.
var maxUnzippedBytes int64 = 256 << 20

var errTooLarge = errors.New("decompressed content exceeds size limit")

const (
	FormatUnknown  Format = ""
	FormatText     Format = "txt"
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
	FormatPDF      Format = "pdf"
	FormatDOCX     Format = "docx"
	FormatXLSX     Format = "xlsx"
)

// Text detects the format of data and extracts its text.
func Text(data []byte, filename string) (string, Format, error) {
	format := Detect(data, filename)

	var (
		text string
		err  error
	)
	switch format {
	case FormatText, FormatMarkdown:
		text = plainText(data)
	case FormatHTML:
		text, err = htmlText(data)
	case FormatPDF:
		text, err = pdfText(data)
	case FormatDOCX:
		text, err = docxText(data)
	case FormatXLSX:
		text, err = xlsxText(data)
	default:
		return "", FormatUnknown, fmt.Errorf("%w: %s", types.ErrUnsupportedFormat, describe(data, filename))
	}
	if err != nil {
		return "", format, fmt.Errorf("failed to extract %s from %q: %w: %w", format, filename, types.ErrUnreadableDocument, err)
	}

	return tidy(sanitizeUTF8(text)), format, nil
}

// Detect sniffs the content type of data and falls back to the file
// extension to tell text flavours apart.
func Detect(data []byte, filename string) Format {
	ext := strings.ToLower(filepath.Ext(filename))
	contentType := http.DetectContentType(data)

	switch {
	case contentType == "application/pdf":
		return FormatPDF
	case contentType == "application/zip":
		return zipFormat(data)
	case strings.HasPrefix(contentType, "text/html"):
		return FormatHTML
	case strings.HasPrefix(contentType, "text/plain"):
		switch ext {
		case ".md", ".markdown":
			return FormatMarkdown
		case ".html", ".htm":
			return FormatHTML
		default:
			return FormatText
		}
	}
	return FormatUnknown
}

// zipFormat tells Office Open XML documents apart by their main part.
func zipFormat(data []byte) Format {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return FormatUnknown
	}
	for _, f := range reader.File {
		switch f.Name {
		case "word/document.xml":
			return FormatDOCX
		case "xl/workbook.xml":
			return FormatXLSX
		}
	}
	return FormatUnknown
}

func describe(data []byte, filename string) string {
	if ext := filepath.Ext(filename); ext != "" {
		return fmt.Sprintf("%s (%s)", ext, http.DetectContentType(data))
	}
	return http.DetectContentType(data)
}

func plainText(data []byte) string {
	text := strings.TrimPrefix(string(data), "\ufeff")
	return strings.ReplaceAll(text, "\r\n", "\n")
}

var blankLines = regexp.MustCompile(`\n{3,}`)

// tidy trims trailing spaces and collapses runs of blank lines.
func tidy(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	text = strings.Join(lines, "\n")
	return strings.TrimSpace(blankLines.ReplaceAllString(text, "\n\n"))
}

// sanitizeUTF8 drops invalid bytes; Postgres and the embedding models both
// reject them.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	v := make([]rune, 0, len(s))
	for i, r := range s {
		if r == utf8.RuneError {
			if _, size := utf8.DecodeRuneInString(s[i:]); size == 1 {
				continue
			}
		}
		v = append(v, r)
	}
	return string(v)
}
