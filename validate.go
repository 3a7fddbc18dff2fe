package taskdeck

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON names so details line up with the wire.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})

	if err := v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	}); err != nil {
		panic(err)
	}

	v.RegisterCustomTypeFunc(func(f reflect.Value) any {
		n := f.Interface().(Nullable[string])
		if !n.Valid {
			return ""
		}
		return n.Value
	}, Nullable[string]{})

	return v
}

// Validate checks v against its validate struct tags. The error, if any, is
// an *Error with code invalid_argument.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		return AsError(err)
	}
	return nil
}
