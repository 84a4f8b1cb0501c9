package middleware

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/yothgewalt/discount-card-portal-server/internal/failure"
)

var validate = newValidator()

// newValidator reports fields by their json or query name.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "query"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	return v
}

// Bind parses the request body into dst and runs its validate tags.
func Bind(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return failure.Wrap(failure.Validation, "Invalid request body.", err)
	}
	return Validate(dst)
}

// BindQuery is Bind for query strings.
func BindQuery(c *fiber.Ctx, dst any) error {
	if err := c.QueryParser(dst); err != nil {
		return failure.Wrap(failure.Validation, "Invalid query parameters.", err)
	}
	return Validate(dst)
}

func Validate(dst any) error {
	err := validate.Struct(dst)
	if err == nil {
		return nil
	}

	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return failure.Wrap(failure.Validation, "Invalid request.", err)
	}

	messages := make([]string, 0, len(fields))
	for _, fe := range fields {
		messages = append(messages, describe(fe))
	}
	return failure.Wrap(failure.Validation, strings.Join(messages, " "), err)
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required.", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address.", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s.", field, fe.Param())
	case "numeric":
		return fmt.Sprintf("%s must contain digits only.", field)
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s.", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s.", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid.", field)
	}
}
