package core

import "github.com/jackc/pgx/v5/pgtype"

// TemplateColumns is the column order of the downloadable import template.
var TemplateColumns = []string{
	"firstName",
	"lastName",
	"email",
	"phone",
	"dateOfBirth",
	"admissionNumber",
	"admissionDate",
	"className",
	"section",
	"bloodGroup",
	"address",
	"emergencyContactName",
	"emergencyContactPhone",
	"medicalConditions",
}

type fieldSetter func(r *ImportRecord, v string)

func optional(get func(r *ImportRecord) *pgtype.Text) fieldSetter {
	return func(r *ImportRecord, v string) {
		*get(r) = pgtype.Text{String: v, Valid: true}
	}
}

// recordFields maps lowercase header names to the record field they fill.
var recordFields = map[string]fieldSetter{
	"firstname":             func(r *ImportRecord, v string) { r.FirstName = v },
	"lastname":              func(r *ImportRecord, v string) { r.LastName = v },
	"email":                 func(r *ImportRecord, v string) { r.Email = v },
	"admissionnumber":       func(r *ImportRecord, v string) { r.AdmissionNumber = v },
	"phone":                 optional(func(r *ImportRecord) *pgtype.Text { return &r.Phone }),
	"dateofbirth":           optional(func(r *ImportRecord) *pgtype.Text { return &r.DateOfBirth }),
	"admissiondate":         optional(func(r *ImportRecord) *pgtype.Text { return &r.AdmissionDate }),
	"classname":             optional(func(r *ImportRecord) *pgtype.Text { return &r.ClassName }),
	"section":               optional(func(r *ImportRecord) *pgtype.Text { return &r.Section }),
	"bloodgroup":            optional(func(r *ImportRecord) *pgtype.Text { return &r.BloodGroup }),
	"address":               optional(func(r *ImportRecord) *pgtype.Text { return &r.Address }),
	"emergencycontactname":  optional(func(r *ImportRecord) *pgtype.Text { return &r.EmergencyContactName }),
	"emergencycontactphone": optional(func(r *ImportRecord) *pgtype.Text { return &r.EmergencyContactPhone }),
	"medicalconditions":     optional(func(r *ImportRecord) *pgtype.Text { return &r.MedicalConditions }),
}

// MapRecords converts tokenized rows into import records.
// Headers are matched case-insensitively against the template vocabulary;
// unknown headers are ignored and missing ones leave their field unset.
func MapRecords(header []string, rows [][]string) []ImportRecord {
	type binding struct {
		pos int
		set fieldSetter
	}

	var bindings []binding
	for name, pos := range MakeHeaderIndex(header) {
		if set, ok := recordFields[name]; ok {
			bindings = append(bindings, binding{pos: pos, set: set})
		}
	}

	records := make([]ImportRecord, len(rows))
	for i, row := range rows {
		rec := ImportRecord{Row: i + 2}
		for _, b := range bindings {
			if b.pos < len(row) {
				b.set(&rec, row[b.pos])
			}
		}
		records[i] = rec
	}
	return records
}

// IsTemplateColumn reports whether name is a recognized import column.
func IsTemplateColumn(name string) bool {
	_, ok := recordFields[normalizeHeader(name)]
	return ok
}

// IgnoredColumns returns the non-blank header cells that MapRecords skips,
// cleaned and in file order.
func IgnoredColumns(header []string) []string {
	var ignored []string
	for _, h := range header {
		name := CleanCell(h)
		if name != "" && !IsTemplateColumn(name) {
			ignored = append(ignored, name)
		}
	}
	return ignored
}
