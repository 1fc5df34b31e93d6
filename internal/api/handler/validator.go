package handler

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/styxchat/chat-service/internal/core/domain"
)

// requestValidator adapts go-playground/validator to echo.Validator. Messages
// name fields by their JSON key.
type requestValidator struct {
	v *validator.Validate
}

// NewValidator returns a validator for echo.Echo.Validator with the chat
// specific tags registered:
//
//	role       a known account role
//	room_name  a display name that yields a non-empty room id
//	notblank   not empty after trimming whitespace
func NewValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonName)
	_ = v.RegisterValidation("role", func(fl validator.FieldLevel) bool {
		return domain.Role(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("room_name", func(fl validator.FieldLevel) bool {
		return domain.Slugify(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return &requestValidator{v: v}
}

func jsonName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

// Validate implements echo.Validator. All field failures are joined into one
// message.
func (rv *requestValidator) Validate(i any) error {
	err := rv.v.Struct(i)
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return err
	}
	parts := make([]string, len(fields))
	for n, fe := range fields {
		parts[n] = describe(fe)
	}
	return errors.New(strings.Join(parts, "; "))
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required", "notblank":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "role":
		return field + " must be one of: admin user kid"
	case "room_name":
		return field + " must contain at least one letter or digit"
	case "hexcolor":
		return field + " must be a hex color"
	default:
		return fmt.Sprintf("%s is invalid (%s)", field, fe.Tag())
	}
}
