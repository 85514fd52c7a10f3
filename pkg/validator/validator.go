package validator

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ValidationError is one field that failed a rule. Field uses the json name.
type ValidationError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
	Param string `json:"param"`
}

func (e ValidationError) String() string {
	if e.Param == "" {
		return e.Field + " failed on " + e.Tag
	}
	return e.Field + " failed on " + e.Tag + "=" + e.Param
}

// Message renders the failure for API clients.
func (e ValidationError) Message() string {
	field := strings.ReplaceAll(e.Field, "_", " ")
	switch e.Tag {
	case "required", "notblank":
		return field + " is required"
	case "max":
		return field + " must be at most " + e.Param + " characters"
	case "min":
		return field + " must be at least " + e.Param + " characters"
	case "oneof":
		return field + " must be one of: " + e.Param
	case "slug":
		return field + " must be a lower-case code (letters, digits, '_', '-', '.')"
	default:
		return e.String()
	}
}

// ValidationErrors collects multiple validation failures.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(v))
	for i, failure := range v {
		parts[i] = failure.String()
	}
	return strings.Join(parts, "; ")
}

var slugPattern = regexp.MustCompile(`^[a-z][a-z0-9_.-]*$`)

// customTags are registered on first use.
//
//	notblank  non-empty after trimming whitespace
//	slug      lower-case code such as a role code or resource type
var customTags = map[string]validator.Func{
	"notblank": func(fl validator.FieldLevel) bool {
		field := fl.Field()
		if field.Kind() != reflect.String {
			return !field.IsZero()
		}
		return strings.TrimSpace(field.String()) != ""
	},
	"slug": func(fl validator.FieldLevel) bool {
		return fl.Field().Kind() == reflect.String && slugPattern.MatchString(fl.Field().String())
	},
}

var (
	once     sync.Once
	instance *validator.Validate
)

func engine() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(jsonFieldName)
		for tag, fn := range customTags {
			if err := v.RegisterValidation(tag, fn); err != nil {
				panic("validator: register " + tag + ": " + err.Error())
			}
		}
		instance = v
	})
	return instance
}

func jsonFieldName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return field.Name
	}
	return name
}

// Describe joins the client messages of err when it holds ValidationErrors, and returns
// err.Error() otherwise.
func Describe(err error) string {
	var failures ValidationErrors
	if !errors.As(err, &failures) || len(failures) == 0 {
		if err == nil {
			return ""
		}
		return err.Error()
	}
	messages := make([]string, len(failures))
	for i, failure := range failures {
		messages[i] = failure.Message()
	}
	return strings.Join(messages, "; ")
}

// ValidateStruct runs the struct's validate tags. Rule failures come back as
// ValidationErrors; anything else (for example a non-struct argument) is returned as is.
func ValidateStruct(s any) error {
	err := engine().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	failures := make(ValidationErrors, len(fieldErrs))
	for i, fe := range fieldErrs {
		failures[i] = ValidationError{Field: fe.Field(), Tag: fe.Tag(), Param: fe.Param()}
	}
	return failures
}

// RegisterValidation adds a custom rule to the shared engine.
func RegisterValidation(tag string, fn validator.Func) error {
	return engine().RegisterValidation(tag, fn)
}
