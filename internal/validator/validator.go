package validator

import (
	"strings"
	"sync"

	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/go-playground/validator/v10"
)

var (
	validate *validator.Validate
	once     sync.Once
)

// GetValidator returns the shared validator instance
func GetValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(jsonTagName)
	})
	return validate
}

// ValidateRequest runs struct tag validation and returns an ErrValidation
// marked error naming the failing fields.
func ValidateRequest(req interface{}) error {
	err := GetValidator().Struct(req)
	if err == nil {
		return nil
	}

	details := map[string]any{}
	var fields []string
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
			details[fe.Field()] = fe.Tag()
		}
	}

	hint := "Request validation failed"
	if len(fields) > 0 {
		hint = "Invalid or missing fields: " + strings.Join(fields, ", ")
	}
	return ierr.WithError(err).
		WithHint(hint).
		WithReportableDetails(details).
		Mark(ierr.ErrValidation)
}
