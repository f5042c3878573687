package validation

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"k8s.io/apimachinery/pkg/api/resource"
	k8svalidation "k8s.io/apimachinery/pkg/util/validation"

	"platformd/backend/internal/apperrors"
)

var (
	once     sync.Once
	instance *validator.Validate
)

// V returns the shared validator with the custom tags registered.
func V() *validator.Validate {
	once.Do(func() {
		instance = validator.New(validator.WithRequiredStructEnabled())
		instance.RegisterTagNameFunc(jsonName)
		_ = instance.RegisterValidation("quantity", quantityValidator)
		_ = instance.RegisterValidation("dns1123", dns1123Validator)
	})
	return instance
}

// Struct validates obj and converts failures into a ValidationError keyed by JSON field names.
func Struct(obj any) error {
	err := V().Struct(obj)
	if err == nil {
		return nil
	}
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	items := make([]apperrors.FieldError, 0, len(errs))
	for _, fe := range errs {
		items = append(items, apperrors.FieldError{
			Loc:  []string{"body", fe.Field()},
			Msg:  message(fe),
			Type: "value_error." + fe.Tag(),
		})
	}
	return &apperrors.ValidationError{Items: items}
}

func quantityValidator(fl validator.FieldLevel) bool {
	_, err := resource.ParseQuantity(fl.Field().String())
	return err == nil
}

func dns1123Validator(fl validator.FieldLevel) bool {
	return len(k8svalidation.IsDNS1123Label(fl.Field().String())) == 0
}

func jsonName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return field.Name
	}
	return name
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field required"
	case "quantity":
		return fmt.Sprintf("%q is not a valid quantity", fe.Value())
	case "dns1123":
		return "must consist of lower case alphanumeric characters or '-', and start and end with an alphanumeric character"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	default:
		return fmt.Sprintf("failed on %s validation", fe.Tag())
	}
}
