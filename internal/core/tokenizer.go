package core

// tokenizer.go turns an uploaded file into a header row and data rows.
//
// CSV input is decoded through a BOM-stripping UTF-8 decoder (invalid bytes
// become U+FFFD) and parsed with encoding/csv, so quoted fields may contain
// commas. XLSX input reads the first worksheet. Both paths share the same
// shape rules:
//
//  1. Blank lines are dropped.
//  2. At least a header row and one data row must remain.
//  3. Every data row must have exactly as many columns as the header.

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrUnsupportedFileType is returned for uploads that are neither CSV nor XLSX.
var ErrUnsupportedFileType = errors.New("unsupported file type: upload a .csv or .xlsx file")

// MalformedInputError reports a file whose shape cannot be imported.
// Line is the 1-based position among non-blank lines (header = 1), or 0 when
// the problem is not tied to one line.
type MalformedInputError struct {
	Line   int
	Reason string
}

func (e *MalformedInputError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed input: line %d: %s", e.Line, e.Reason)
	}
	return "malformed input: " + e.Reason
}

// TokenizeFile tokenizes r according to the extension of name.
// Files without an extension are treated as CSV.
func TokenizeFile(name string, r io.Reader) ([]string, [][]string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt", "":
		return Tokenize(r)
	case ".xlsx":
		return TokenizeXLSX(r)
	default:
		return nil, nil, ErrUnsupportedFileType
	}
}

// CheckContent rejects uploads whose bytes contradict their extension, such
// as a PDF renamed to .csv. Unrecognized bytes pass for CSV names so legacy
// encodings still reach the decoder.
func CheckContent(name string, data []byte) error {
	mtype := mimetype.Detect(data)

	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx":
		if isMIME(mtype, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet") ||
			mtype.Is("application/zip") {
			return nil
		}
	default:
		if isMIME(mtype, "text/plain") || mtype.Is("application/octet-stream") {
			return nil
		}
	}
	return fmt.Errorf("%w: content looks like %s", ErrUnsupportedFileType, mtype.String())
}

// isMIME reports whether m or one of its parents is expected.
func isMIME(m *mimetype.MIME, expected string) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is(expected) {
			return true
		}
	}
	return false
}

// Tokenize parses CSV text into a header row and data rows.
func Tokenize(r io.Reader) ([]string, [][]string, error) {
	cr := csv.NewReader(newTextReader(r))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	var lines [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return nil, nil, &MalformedInputError{Line: len(lines) + 1, Reason: pe.Err.Error()}
			}
			return nil, nil, fmt.Errorf("read csv: %w", err)
		}

		row := cleanRow(rec)
		if isBlankLine(row) {
			continue
		}
		lines = append(lines, row)
	}

	return splitHeader(lines, "CSV file", false)
}

// TokenizeXLSX reads the first worksheet of an .xlsx workbook.
// Spreadsheet rows omit trailing empty cells, so short rows are padded to the
// header width before the column-count check.
func TokenizeXLSX(r io.Reader) ([]string, [][]string, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, &MalformedInputError{Reason: fmt.Sprintf("unreadable xlsx workbook: %v", err)}
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, &MalformedInputError{Reason: "workbook has no sheets"}
	}

	raw, err := book.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}

	var lines [][]string
	for _, rec := range raw {
		row := cleanRow(rec)
		if isEmptyRow(row) {
			continue
		}
		lines = append(lines, row)
	}

	return splitHeader(lines, "Workbook", true)
}

// splitHeader applies the shared shape rules to non-blank lines.
func splitHeader(lines [][]string, kind string, pad bool) ([]string, [][]string, error) {
	if len(lines) < 2 {
		return nil, nil, &MalformedInputError{
			Reason: kind + " must contain a header row and at least one data row",
		}
	}

	header := lines[0]
	rows := lines[1:]
	for i, row := range rows {
		if pad && len(row) < len(header) {
			row = append(row, make([]string, len(header)-len(row))...)
			rows[i] = row
		}
		if len(row) != len(header) {
			return nil, nil, &MalformedInputError{
				Line:   i + 2,
				Reason: fmt.Sprintf("row has %d columns, header has %d", len(row), len(header)),
			}
		}
	}

	return header, rows, nil
}

// newTextReader strips a UTF-8 BOM and replaces invalid UTF-8 sequences.
func newTextReader(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
}

func cleanRow(rec []string) []string {
	row := make([]string, len(rec))
	for i, v := range rec {
		row[i] = CleanCell(v)
	}
	return row
}

// isBlankLine reports whether a CSV record came from a whitespace-only line.
// A line of bare separators (",,,") is not blank: it still has columns.
func isBlankLine(row []string) bool {
	return len(row) == 0 || (len(row) == 1 && row[0] == "")
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
