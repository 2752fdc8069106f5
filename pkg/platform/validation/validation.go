// Package validation wraps go-playground/validator with the custom tags used
// by request bodies and service inputs.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator"

	"certify/pkg/domain"
	dErrors "certify/pkg/domain-errors"
)

var (
	once     sync.Once
	instance *validator.Validate
)

// Validator returns the shared validator with custom tags registered.
func Validator() *validator.Validate {
	once.Do(func() {
		v := validator.New()
		v.RegisterValidation("identity", func(fl validator.FieldLevel) bool {
			_, err := domain.ParseIdentity(fl.Field().String())
			return err == nil
		})
		v.RegisterValidation("certhash", func(fl validator.FieldLevel) bool {
			_, err := domain.ParseCertHash(fl.Field().String())
			return err == nil
		})
		v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		})
		instance = v
	})
	return instance
}

// Struct validates s and converts the first failing field into a
// CodeValidation domain error.
func Struct(s any) error {
	if err := Validator().Struct(s); err != nil {
		var validateErrors validator.ValidationErrors
		if errors.As(err, &validateErrors) && len(validateErrors) > 0 {
			first := validateErrors[0]
			return dErrors.Wrap(err, dErrors.CodeValidation, describe(first))
		}
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid request")
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required", "notblank":
		return fmt.Sprintf("%s is required", field)
	case "identity":
		return fmt.Sprintf("%s must be a 0x-prefixed 40 character hex identity", field)
	case "certhash":
		return fmt.Sprintf("%s must be a 0x-prefixed 64 character hex hash", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
