package core

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantHeader []string
		wantRows   [][]string
	}{
		{
			name:       "simple",
			input:      "firstName,lastName\nAda,Lovelace\n",
			wantHeader: []string{"firstName", "lastName"},
			wantRows:   [][]string{{"Ada", "Lovelace"}},
		},
		{
			name:       "quoted comma",
			input:      "firstName,address\nAda,\"12 Marina Road, Lagos\"\n",
			wantHeader: []string{"firstName", "address"},
			wantRows:   [][]string{{"Ada", "12 Marina Road, Lagos"}},
		},
		{
			name:       "escaped quotes",
			input:      "firstName,medicalConditions\nAda,\"Carries \"\"blue\"\" inhaler\"\n",
			wantHeader: []string{"firstName", "medicalConditions"},
			wantRows:   [][]string{{"Ada", `Carries "blue" inhaler`}},
		},
		{
			name:       "byte order mark",
			input:      "\xEF\xBB\xBFfirstName,lastName\nAda,Lovelace\n",
			wantHeader: []string{"firstName", "lastName"},
			wantRows:   [][]string{{"Ada", "Lovelace"}},
		},
		{
			name:       "blank and whitespace lines dropped",
			input:      "firstName,lastName\n\n   \nAda,Lovelace\n\nGrace,Hopper\n",
			wantHeader: []string{"firstName", "lastName"},
			wantRows:   [][]string{{"Ada", "Lovelace"}, {"Grace", "Hopper"}},
		},
		{
			name:       "crlf line endings",
			input:      "firstName,lastName\r\nAda,Lovelace\r\n",
			wantHeader: []string{"firstName", "lastName"},
			wantRows:   [][]string{{"Ada", "Lovelace"}},
		},
		{
			name:       "cells trimmed",
			input:      "firstName , lastName\n  Ada ,Lovelace  \n",
			wantHeader: []string{"firstName", "lastName"},
			wantRows:   [][]string{{"Ada", "Lovelace"}},
		},
		{
			name:       "empty cells kept",
			input:      "firstName,lastName,phone\nAda,Lovelace,\n",
			wantHeader: []string{"firstName", "lastName", "phone"},
			wantRows:   [][]string{{"Ada", "Lovelace", ""}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header, rows, err := Tokenize(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.wantHeader, header)
			assert.Equal(t, tt.wantRows, rows)
		})
	}
}

func TestTokenize_Malformed(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantLine int
		wantMsg  string
	}{
		{
			name:    "empty file",
			input:   "",
			wantMsg: "malformed input: CSV file must contain a header row and at least one data row",
		},
		{
			name:    "header only",
			input:   "firstName,lastName\n",
			wantMsg: "malformed input: CSV file must contain a header row and at least one data row",
		},
		{
			name:    "only blank lines after header",
			input:   "firstName,lastName\n\n  \n",
			wantMsg: "malformed input: CSV file must contain a header row and at least one data row",
		},
		{
			name:     "short row",
			input:    "firstName,lastName\nAda,Lovelace\nGrace\n",
			wantLine: 3,
			wantMsg:  "malformed input: line 3: row has 1 columns, header has 2",
		},
		{
			name:     "long row",
			input:    "firstName,lastName\nAda,Lovelace,extra\n",
			wantLine: 2,
			wantMsg:  "malformed input: line 2: row has 3 columns, header has 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Tokenize(strings.NewReader(tt.input))
			require.Error(t, err)

			var malformed *MalformedInputError
			require.True(t, errors.As(err, &malformed), "want *MalformedInputError, got %T", err)
			assert.Equal(t, tt.wantLine, malformed.Line)
			assert.Equal(t, tt.wantMsg, err.Error())
		})
	}
}

func TestTokenizeFile_Routing(t *testing.T) {
	csvData := "firstName,lastName\nAda,Lovelace\n"

	for _, name := range []string{"students.csv", "STUDENTS.CSV", "students.txt", "students"} {
		header, rows, err := TokenizeFile(name, strings.NewReader(csvData))
		require.NoError(t, err, name)
		assert.Equal(t, []string{"firstName", "lastName"}, header, name)
		assert.Len(t, rows, 1, name)
	}

	_, _, err := TokenizeFile("students.pdf", strings.NewReader(csvData))
	assert.ErrorIs(t, err, ErrUnsupportedFileType)
}

// buildWorkbook returns an .xlsx file whose first sheet holds rows.
func buildWorkbook(t *testing.T, rows [][]any) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		if len(row) == 0 {
			continue
		}
		r := row
		require.NoError(t, f.SetSheetRow(sheet, cell, &r))
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestTokenizeXLSX(t *testing.T) {
	data := buildWorkbook(t, [][]any{
		{"firstName", "lastName", "email", "phone"},
		{"Ada", "Lovelace", "ada@example.com"},
		{},
		{"Grace", "Hopper", "grace@example.com", "+15550100"},
	})

	header, rows, err := TokenizeFile("students.xlsx", bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, []string{"firstName", "lastName", "email", "phone"}, header)
	assert.Equal(t, [][]string{
		{"Ada", "Lovelace", "ada@example.com", ""},
		{"Grace", "Hopper", "grace@example.com", "+15550100"},
	}, rows)
}

func TestTokenizeXLSX_HeaderOnly(t *testing.T) {
	data := buildWorkbook(t, [][]any{
		{"firstName", "lastName"},
	})

	_, _, err := TokenizeXLSX(bytes.NewReader(data))

	var malformed *MalformedInputError
	require.ErrorAs(t, err, &malformed)
	assert.Contains(t, err.Error(), "Workbook must contain a header row and at least one data row")
}

func TestTokenizeXLSX_NotAWorkbook(t *testing.T) {
	_, _, err := TokenizeXLSX(strings.NewReader("firstName,lastName\nAda,Lovelace\n"))

	var malformed *MalformedInputError
	require.ErrorAs(t, err, &malformed)
	assert.Contains(t, err.Error(), "unreadable xlsx workbook")
}

func TestCheckContent(t *testing.T) {
	workbook := buildWorkbook(t, [][]any{{"firstName"}, {"Ada"}})

	tests := []struct {
		name    string
		file    string
		data    []byte
		wantErr bool
	}{
		{name: "csv text", file: "students.csv", data: []byte("firstName,lastName\nAda,Lovelace\n")},
		{name: "csv with bom", file: "students.csv", data: []byte("\xEF\xBB\xBFfirstName,lastName\nAda,Lovelace\n")},
		{name: "xlsx workbook", file: "students.xlsx", data: workbook},
		{name: "pdf renamed to csv", file: "students.csv", data: []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n"), wantErr: true},
		{name: "png renamed to csv", file: "students.csv", data: []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), wantErr: true},
		{name: "text renamed to xlsx", file: "students.xlsx", data: []byte("firstName,lastName\nAda,Lovelace\n"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckContent(tt.file, tt.data)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedFileType)
				return
			}
			assert.NoError(t, err)
		})
	}
}
