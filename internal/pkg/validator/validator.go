package validator

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/buycars/buycars-api/internal/pkg/money"
	"github.com/buycars/buycars-api/internal/pkg/mpesa"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	registerCustomValidations()
}

func registerCustomValidations() {
	// Kenyan mobile number in any accepted input form (07.., +2547.., 2547..)
	validate.RegisterValidation("msisdn", func(fl validator.FieldLevel) bool {
		_, err := mpesa.NormalizePhone(fl.Field().String())
		return err == nil
	})

	// Positive KES amount with at most two decimals, given as a string
	validate.RegisterValidation("amount", func(fl validator.FieldLevel) bool {
		_, err := money.Parse(fl.Field().String())
		return err == nil
	})

	// Plan codes are short alphanumerics; the catalog decides which exist
	validate.RegisterValidation("plan_code", func(fl validator.FieldLevel) bool {
		code := strings.TrimSpace(fl.Field().String())
		if len(code) < 2 || len(code) > 20 {
			return false
		}
		for _, r := range code {
			if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
				return false
			}
		}
		return true
	})

	validate.RegisterValidation("purpose", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "SUBSCRIPTION", "BOOKING":
			return true
		}
		return false
	})
}

// Validate validates a struct and returns a map of field errors
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"_": "Invalid request"}
	}

	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required", "required_if":
			out[field] = "This field is required"
		case "min":
			out[field] = "Value is too short (min: " + fe.Param() + ")"
		case "max":
			out[field] = "Value is too long (max: " + fe.Param() + ")"
		case "gte":
			out[field] = "Value must be at least " + fe.Param()
		case "lte":
			out[field] = "Value must be at most " + fe.Param()
		case "uuid":
			out[field] = "Invalid identifier"
		case "datetime":
			out[field] = "Invalid date, expected " + fe.Param()
		case "msisdn":
			out[field] = "Invalid phone number. Use 07XXXXXXXX or 2547XXXXXXXX"
		case "amount":
			out[field] = "Amount must be a positive number with at most 2 decimals"
		case "plan_code":
			out[field] = "Invalid plan code"
		case "purpose":
			out[field] = "Invalid purpose. Must be: SUBSCRIPTION or BOOKING"
		case "oneof":
			out[field] = "Must be one of: " + fe.Param()
		default:
			out[field] = "Invalid value"
		}
	}
	return out
}

// ValidateVar validates a single variable
func ValidateVar(field interface{}, tag string) error {
	return validate.Var(field, tag)
}
