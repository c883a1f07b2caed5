package config

// loader.go fills Config from the environment.
//
// Leaf fields name their variable with an `env` tag. `envAlt` is a fallback
// name, `default` applies when both are unset and `required:"true"` rejects
// an unset variable. Rules on the loaded values are `validate` tags checked
// by go-playground/validator; errors name the variable, not the Go field.

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var durationType = reflect.TypeOf(time.Duration(0))

// lookupFunc reports the value of an environment variable.
type lookupFunc func(key string) (string, bool)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	return load(os.LookupEnv)
}

func load(lookup lookupFunc) (*Config, error) {
	cfg := &Config{}

	if err := populate(reflect.ValueOf(cfg).Elem(), lookup); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// populate walks v and sets every tagged field. All missing or unparseable
// variables are reported together.
func populate(v reflect.Value, lookup lookupFunc) error {
	var errs []error

	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fv := v.Field(i)
		if !fv.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct {
			if err := populate(fv, lookup); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		name := field.Tag.Get("env")
		if name == "" {
			continue
		}

		raw, ok := env(lookup, name, field.Tag.Get("envAlt"))
		if !ok {
			if field.Tag.Get("required") == "true" {
				errs = append(errs, fmt.Errorf("required environment variable %s is not set", name))
				continue
			}
			raw = field.Tag.Get("default")
		}
		if raw == "" {
			continue
		}

		parsed, err := parse(field.Type, raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid value for %s=%q: %w", name, raw, err))
			continue
		}
		fv.Set(parsed)
	}

	return errors.Join(errs...)
}

// env returns the first non-empty value of name and alt.
func env(lookup lookupFunc, name, alt string) (string, bool) {
	for _, key := range []string{name, alt} {
		if key == "" {
			continue
		}
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// parse converts raw into a value of type t.
func parse(t reflect.Type, raw string) (reflect.Value, error) {
	out := reflect.New(t).Elem()

	switch {
	case t == durationType:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return out, fmt.Errorf("invalid duration: %w", err)
		}
		out.SetInt(int64(d))

	case t.Kind() == reflect.String:
		out.SetString(raw)

	case t.Kind() == reflect.Int, t.Kind() == reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, t.Bits())
		if err != nil {
			return out, fmt.Errorf("invalid integer: %w", err)
		}
		out.SetInt(n)

	case t.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return out, fmt.Errorf("invalid boolean: %w", err)
		}
		out.SetBool(b)

	case t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.String:
		var items []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		out.Set(reflect.ValueOf(items))

	default:
		return out, fmt.Errorf("unsupported field type: %s", t)
	}
	return out, nil
}

// validate checks `validate` tags; field names in errors are env names.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
	v.RegisterStructValidation(validateRateLimit, RateLimitConfig{})
	return v
}

// validateRateLimit requires positive limits only while rate limiting is on.
func validateRateLimit(sl validator.StructLevel) {
	rate := sl.Current().Interface().(RateLimitConfig)
	if !rate.Enabled {
		return
	}
	if rate.RequestsPerMinute <= 0 {
		sl.ReportError(rate.RequestsPerMinute, "RATE_LIMIT_REQUESTS_PER_MINUTE", "RequestsPerMinute", "gt_when_enabled", "0")
	}
	if rate.ImportLimit <= 0 {
		sl.ReportError(rate.ImportLimit, "RATE_LIMIT_IMPORT", "ImportLimit", "gt_when_enabled", "0")
	}
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(msgs, "\n  - "))
}

// describe renders one rule violation for an operator.
func describe(fe validator.FieldError) string {
	name := fe.Field()
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "required_with":
		return fmt.Sprintf("%s is required when MINIO_ENDPOINT is set", name)
	case "min", "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters", name, fe.Param())
		}
		return fmt.Sprintf("%s (%v) must be 1-65535", name, fe.Value())
	case "gt":
		return fmt.Sprintf("%s (%v) must be positive", name, fe.Value())
	case "gte":
		return fmt.Sprintf("%s (%v) must be non-negative", name, fe.Value())
	case "gtefield":
		return fmt.Sprintf("%s (%v) must be >= DB_MIN_CONNS", name, fe.Value())
	case "gt_when_enabled":
		return fmt.Sprintf("%s (%v) must be positive when rate limiting is enabled", name, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s (%q) must be one of: %s", name, fe.Value(), strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return fmt.Sprintf("%s (%v) failed %s", name, fe.Value(), fe.Tag())
	}
}
