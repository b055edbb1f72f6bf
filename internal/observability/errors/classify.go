package errors

import (
	goerrors "errors"
	"reflect"
	"strings"

	apperrors "github.com/target/netops-go/internal/errors"
)

// Classify returns a normalized error class for metric and log tags.
// Taxonomy errors classify by their code, which keeps tag cardinality at
// the size of the code set; anything else falls back to the innermost
// concrete type name in snake_case-ish form.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	var appErr *apperrors.AppError
	if goerrors.As(err, &appErr) {
		return string(appErr.Code)
	}
	return typeClass(innermost(err))
}

// innermost follows the Unwrap chain to the root cause; wrappers carry no
// classification signal of their own.
func innermost(err error) error {
	for {
		next := goerrors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

func typeClass(err error) string {
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}
	name := strings.NewReplacer("*", "", ".", "_").Replace(strings.ToLower(t.String()))
	if name == "" {
		return "unknown"
	}
	return name
}
