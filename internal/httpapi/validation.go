package httpapi

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"pdv/backend/internal/store"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// validationError carries per field messages keyed by JSON name.
type validationError struct {
	fields map[string]string
}

func (e *validationError) Error() string {
	keys := make([]string, 0, len(e.fields))
	for k := range e.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = e.fields[k]
	}
	return strings.Join(parts, "; ")
}

func (e *validationError) Unwrap() error {
	return store.ErrInvalid
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return fmt.Errorf("%w: %v", store.ErrInvalid, err)
	}
	return &validationError{fields: formatValidationErrors(errs)}
}

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	messages := make(map[string]string, len(errs))
	for _, err := range errs {
		field := fieldPath(err)
		switch err.Tag() {
		case "required":
			messages[field] = fmt.Sprintf("%s is required", field)
		case "min":
			messages[field] = fmt.Sprintf("%s must be at least %s", field, err.Param())
		case "max":
			messages[field] = fmt.Sprintf("%s must be at most %s", field, err.Param())
		case "oneof":
			messages[field] = fmt.Sprintf("%s must be one of: %s", field, err.Param())
		default:
			messages[field] = fmt.Sprintf("%s failed %s validation", field, err.Tag())
		}
	}
	return messages
}

// fieldPath drops the top level struct name, so items[0].name rather than
// SaleRequest.items[0].name.
func fieldPath(err validator.FieldError) string {
	ns := err.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return err.Field()
}
