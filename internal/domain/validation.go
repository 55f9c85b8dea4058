package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the package-level validator instance used for struct validation.
// Custom tags for the annotation enums are registered once at init.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	enums := map[string]func(string) bool{
		"track":           func(s string) bool { return Track(s).IsValid() },
		"rating":          func(s string) bool { return Rating(s).IsValid() },
		"failure_mode":    func(s string) bool { return FailureMode(s).IsValid() },
		"intent":          func(s string) bool { return Intent(s).IsValid() },
		"overall_failure": func(s string) bool { return OverallFailure(s).IsValid() },
	}
	for tag, fn := range enums {
		check := fn
		// Registration only fails for empty tags or nil funcs.
		_ = v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return check(fl.Field().String())
		})
	}
	return v
}

// validationError converts validator output into a single error wrapping
// sentinel, listing each offending field as "Field(tag)".
func validationError(sentinel error, err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", sentinel, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s(%s)", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", sentinel, strings.Join(fields, ", "))
}

// isBlank reports whether s is empty once surrounding whitespace is removed.
func isBlank(s string) bool { return strings.TrimSpace(s) == "" }
