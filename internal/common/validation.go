package common

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/joseph-ayodele/doc-translator/constants"
)

// ValidationError represents validation failures
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field '%s' with value '%v': %s", e.Field, e.Value, e.Message)
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validate returns the shared validator with the custom tags registered.
//
//	lang     - a supported language code
//	srclang  - a supported language code or "auto"
func Validate() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("lang", func(fl validator.FieldLevel) bool {
			return constants.IsSupportedLanguage(fl.Field().String())
		})
		_ = validate.RegisterValidation("srclang", func(fl validator.FieldLevel) bool {
			v := fl.Field().String()
			return v == constants.LanguageAuto || constants.IsSupportedLanguage(v)
		})
	})
	return validate
}

// ValidateStruct runs struct tags and folds failures into a single AppError.
func ValidateStruct(s interface{}) error {
	err := Validate().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewAppError(CodeValidation, err.Error(), ErrValidation)
	}
	fields := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, ValidationError{
			Field:   fe.Field(),
			Value:   fe.Value(),
			Message: ruleMessage(fe),
		})
	}
	return NewAppError(CodeValidation, joinValidation(fields), ErrValidation)
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "lang":
		return "must be one of en, de, ru, zh"
	case "srclang":
		return "must be one of auto, en, de, ru, zh"
	case "oneof":
		return "must be one of " + fe.Param()
	case "nefield":
		return "must differ from " + fe.Param()
	case "required_without_all":
		return "is required unless one of " + fe.Param() + " is set"
	default:
		return fmt.Sprintf("failed %q", fe.Tag())
	}
}

func joinValidation(fields []ValidationError) string {
	messages := make([]string, 0, len(fields))
	for _, f := range fields {
		messages = append(messages, f.Field+" "+f.Message)
	}
	return strings.Join(messages, "; ")
}
