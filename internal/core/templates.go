package core

import (
	"encoding/csv"
	"fmt"
	"io"
)

// TemplateFileName is the download name of the import template.
const TemplateFileName = "student_import_template.csv"

// templateExample is one filled-in row matching TemplateColumns.
var templateExample = []string{
	"Ada",
	"Okafor",
	"ada.okafor@example.com",
	"+2348012345678",
	"2012-04-17",
	"ADM-2024-001",
	"2024-09-02",
	"Grade 5",
	"A",
	"O+",
	"12 Marina Road, Lagos",
	"Ngozi Okafor",
	"+2348098765432",
	"Asthma, carries inhaler",
}

// WriteTemplate writes the import template: the header row in template
// order and, when withExample is set, one example student.
func WriteTemplate(w io.Writer, withExample bool) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(TemplateColumns); err != nil {
		return fmt.Errorf("write template header: %w", err)
	}
	if withExample {
		if err := cw.Write(templateExample); err != nil {
			return fmt.Errorf("write template example: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
