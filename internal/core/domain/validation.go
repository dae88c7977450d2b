package domain

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator wraps go-playground/validator with the identity-specific
// validators used by configuration loading.
type Validator struct {
	validator *validator.Validate
}

// NewValidator creates a new validation instance with custom validators.
func NewValidator() *Validator {
	validate := validator.New()

	// Names validate as their string form, so `required` and `dns_name`
	// work on Name fields.
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if n, ok := field.Interface().(Name); ok {
			return n.String()
		}
		return nil
	}, Name{})

	_ = validate.RegisterValidation("dns_name", validateDNSNameCustom)
	_ = validate.RegisterValidation("file_exists", validateFileExistsCustom)

	return &Validator{
		validator: validate,
	}
}

// Validate validates a struct.
func (v *Validator) Validate(s interface{}) error {
	return v.validator.Struct(s)
}

// ValidateVar validates a single variable using the specified tag.
func (v *Validator) ValidateVar(field interface{}, tag string) error {
	return v.validator.Var(field, tag)
}

func validateDNSNameCustom(fl validator.FieldLevel) bool {
	name := strings.TrimSpace(fl.Field().String())
	if name == "" {
		return true // Empty values handled by 'required' tag
	}
	_, err := NewName(name)
	return err == nil
}

func validateFileExistsCustom(fl validator.FieldLevel) bool {
	path := fl.Field().String()
	if path == "" {
		return true // Empty paths handled by 'required' tag
	}

	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// ValidationError wraps go-playground validator errors with additional context.
type ValidationError struct {
	Field   string      `json:"field"`
	Tag     string      `json:"tag"`
	Value   interface{} `json:"value"`
	Message string      `json:"message"`
}

// Error implements the error interface.
func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field '%s': %s", ve.Field, ve.Message)
}

// ConvertValidationErrors converts go-playground validation errors to our custom format.
func ConvertValidationErrors(err error) []ValidationError {
	var errs []ValidationError

	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		for _, validationErr := range validationErrors {
			errs = append(errs, ValidationError{
				Field:   validationErr.Field(),
				Tag:     validationErr.Tag(),
				Value:   validationErr.Value(),
				Message: getCustomErrorMessage(validationErr),
			})
		}
	}

	return errs
}

func getCustomErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "dns_name":
		return "must be a valid DNS name (e.g., web.default.serviceaccount.identity.mesh.cluster.local)"
	case "file_exists":
		return "file must exist and be a regular file"
	case "hostname_port":
		return "must be a host:port address"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("validation failed for tag '%s'", fe.Tag())
	}
}

// GlobalValidator is the global validator instance for convenience.
var GlobalValidator = NewValidator()

// ValidateStruct is a convenience function using the global validator.
func ValidateStruct(s interface{}) error {
	return GlobalValidator.Validate(s)
}
