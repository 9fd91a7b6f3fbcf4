package validation

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "ipproof-backend/internal/common/errors"
)

// FileHashLength is the length of a hex-encoded SHA-256 digest.
const FileHashLength = 64

var fileHashRegex = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)

// IsValidFileHash reports whether s is exactly 64 hex characters (any case).
func IsValidFileHash(s string) bool {
	return fileHashRegex.MatchString(s)
}

// NormalizeFileHash validates s and returns its lowercase form.
// Every boundary that accepts a hash from a caller goes through here.
func NormalizeFileHash(s string) (string, error) {
	if !IsValidFileHash(s) {
		return "", apperrors.NewInvalidHashError(s)
	}
	return strings.ToLower(s), nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON names so callers see the field they actually sent
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// RequireFields checks `validate:"required"` tags on s and returns a
// MISSING_FIELDS AppError naming every absent field.
func RequireFields(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.Wrap(err, apperrors.ErrCodeBadRequest, "Invalid request")
	}

	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		missing = append(missing, fe.Field())
	}
	return apperrors.NewMissingFieldsError(missing)
}
