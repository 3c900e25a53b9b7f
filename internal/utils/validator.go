// internal/utils/validator.go
package utils

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mr-tron/base58"
)

var validate *validator.Validate

var modelIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.\-]{1,63}$`)

func init() {
	validate = validator.New()
	validate.RegisterValidation("solana_signature", validateSolanaSignature)
	validate.RegisterValidation("solana_address", validateSolanaAddress)
	validate.RegisterValidation("model_id", validateModelID)
}

func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

func base58Length(s string) int {
	decoded, err := base58.Decode(s)
	if err != nil {
		return -1
	}
	return len(decoded)
}

// Transaction signatures are 64 bytes, base58 encoded.
func validateSolanaSignature(fl validator.FieldLevel) bool {
	return base58Length(fl.Field().String()) == 64
}

func validateSolanaAddress(fl validator.FieldLevel) bool {
	return base58Length(fl.Field().String()) == 32
}

func validateModelID(fl validator.FieldLevel) bool {
	return modelIDPattern.MatchString(fl.Field().String())
}

// Validation tags for common fields
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func GetValidationErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrs {
			validationErrors = append(validationErrors, ValidationError{
				Field:   strings.ToLower(e.Field()),
				Tag:     e.Tag(),
				Message: getValidationMessage(e),
			})
		}
	}

	return validationErrors
}

func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return e.Field() + " is required"
	case "min":
		return e.Field() + " must be at least " + e.Param() + " characters"
	case "max":
		return e.Field() + " must be at most " + e.Param() + " characters"
	case "oneof":
		return e.Field() + " must be one of: " + e.Param()
	case "solana_signature":
		return e.Field() + " must be a base58 transaction signature"
	case "solana_address":
		return e.Field() + " must be a base58 account address"
	case "model_id":
		return e.Field() + " is not a valid model id"
	default:
		return e.Field() + " is invalid"
	}
}
