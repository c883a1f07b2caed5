package core

// validation.go checks mapped records before any of them is ingested.
//
// Rules are declared as validator tags on ImportRecord. Every violated field
// yields one ImportError; a field stops at its first failing tag, so an empty
// email reports "Email is required" and never also "Invalid email format".

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgtype"
)

var (
	emailRegex   = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	isoDateRegex = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// fieldMessages maps "<field>.<tag>" to the user-facing message.
var fieldMessages = map[string]string{
	"firstName.notblank":       "First name is required",
	"lastName.notblank":        "Last name is required",
	"email.notblank":           "Email is required",
	"email.student_email":      "Invalid email format",
	"admissionNumber.notblank": "Admission number is required",
	"dateOfBirth.iso_date":     "Date of birth must be in YYYY-MM-DD format",
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// recordValidator returns the shared validator, configured on first use.
func recordValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()

		// Report CSV column names instead of Go field names.
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("csv"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})

		v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
			if t, ok := field.Interface().(pgtype.Text); ok && t.Valid {
				return t.String
			}
			return ""
		}, pgtype.Text{})

		_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		})
		_ = v.RegisterValidation("student_email", matches(emailRegex))
		_ = v.RegisterValidation("iso_date", matches(isoDateRegex))

		validate = v
	})
	return validate
}

func matches(re *regexp.Regexp) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	}
}

// ValidateRecord returns every rule violation of a single record.
func ValidateRecord(rec ImportRecord) []ImportError {
	err := recordValidator().Struct(rec)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []ImportError{{Row: rec.Row, Field: "general", Error: err.Error()}}
	}

	out := make([]ImportError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msg, ok := fieldMessages[fe.Field()+"."+fe.Tag()]
		if !ok {
			msg = fmt.Sprintf("%s failed %s check", fe.Field(), fe.Tag())
		}
		out = append(out, ImportError{
			Row:   rec.Row,
			Field: fe.Field(),
			Value: fieldValue(fe.Value()),
			Error: msg,
		})
	}
	return out
}

// ValidateRecords validates all records and returns the errors in row order.
func ValidateRecords(records []ImportRecord) []ImportError {
	var all []ImportError
	for _, rec := range records {
		all = append(all, ValidateRecord(rec)...)
	}
	return all
}

func fieldValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case pgtype.Text:
		return t.String
	default:
		return fmt.Sprint(t)
	}
}
