package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

var errNoDocumentPart = errors.New("word/document.xml not found")

func docxText(data []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	for _, file := range reader.File {
		if file.Name != "word/document.xml" {
			continue
		}

		if file.UncompressedSize64 > uint64(maxUnzippedBytes) {
			return "", fmt.Errorf("%w: %s is %d bytes", errTooLarge, file.Name, file.UncompressedSize64)
		}

		rc, err := file.Open()
		if err != nil {
			return "", err
		}
		defer rc.Close()

		return parseDocumentXML(io.LimitReader(rc, maxUnzippedBytes))
	}
	return "", errNoDocumentPart
}

// parseDocumentXML streams word/document.xml and writes one line per
// paragraph. Heading and Title styles become ATX headings, list paragraphs
// become bullets and table rows become pipe-separated lines.
func parseDocumentXML(r io.Reader) (string, error) {
	var (
		out   strings.Builder
		para  strings.Builder
		cell  strings.Builder
		row   []string
		style string
		inPar bool
		inRow bool
	)

	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to parse document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inPar, style = true, ""
				para.Reset()
			case "pStyle":
				style = attr(t, "val")
			case "t":
				var text string
				if err := dec.DecodeElement(&text, &t); err != nil {
					return "", fmt.Errorf("failed to parse document.xml: %w", err)
				}
				para.WriteString(text)
			case "tab":
				if inPar {
					para.WriteString("\t")
				}
			case "br", "cr":
				para.WriteString("\n")
			case "tr":
				inRow, row = true, nil
			case "tc":
				cell.Reset()
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				inPar = false
				text := strings.TrimSpace(para.String())
				if text == "" {
					continue
				}
				if inRow {
					if cell.Len() > 0 {
						cell.WriteString(" ")
					}
					cell.WriteString(text)
					continue
				}
				out.WriteString(paragraphPrefix(style))
				out.WriteString(text)
				out.WriteString("\n")
			case "tc":
				if inRow {
					row = append(row, strings.ReplaceAll(cell.String(), "\n", " "))
				}
			case "tr":
				inRow = false
				out.WriteString("| " + strings.Join(row, " | ") + " |\n")
			}
		}
	}

	return out.String(), nil
}

func paragraphPrefix(style string) string {
	s := strings.ToLower(strings.ReplaceAll(style, " ", ""))
	switch {
	case s == "title":
		return "\n# "
	case strings.HasPrefix(s, "heading") && len(s) == len("heading")+1:
		level := int(s[len(s)-1] - '0')
		if level < 1 || level > 9 {
			return ""
		}
		if level > 3 {
			level = 3
		}
		return "\n" + strings.Repeat("#", level) + " "
	case strings.HasPrefix(s, "listparagraph"):
		return "- "
	}
	return ""
}

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
