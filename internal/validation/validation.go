// Package validation runs struct-tag validation and reports failures as
// configuration errors.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	clienterrors "github.com/PentesterFlow/OpenClient/internal/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Struct validates v. The subject names what is being validated in the
// resulting error.
func Struct(subject string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var valErrs validator.ValidationErrors
	if !errors.As(err, &valErrs) {
		return clienterrors.NewConfigurationError(subject, err.Error())
	}

	messages := make([]string, 0, len(valErrs))
	for _, ve := range valErrs {
		messages = append(messages, ve.Namespace()+": "+describe(ve))
	}
	return clienterrors.NewConfigurationError(subject, strings.Join(messages, "; "))
}

func describe(ve validator.FieldError) string {
	switch ve.Tag() {
	case "required":
		return "required"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", ve.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", ve.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", ve.Param())
	case "url":
		return "must be a valid URL"
	default:
		if ve.Param() != "" {
			return fmt.Sprintf("failed %s=%s validation", ve.Tag(), ve.Param())
		}
		return fmt.Sprintf("failed %s validation", ve.Tag())
	}
}
