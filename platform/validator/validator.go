// Package validator wires domain validation rules into gin's request
// binding engine. This is part of the platform layer and contains no
// business logic.
package validator

import (
	"errors"
	"regexp"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// Template names follow the WhatsApp Business convention: lowercase
// alphanumerics and underscores only.
var templateNameRe = regexp.MustCompile(`^[a-z0-9_]+$`)

// RegisterBindings installs the custom validations referenced by binding
// tags on request DTOs. Call once at startup before serving requests.
func RegisterBindings() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("validator: unexpected gin binding engine")
	}
	return v.RegisterValidation("template_name", func(fl validator.FieldLevel) bool {
		return templateNameRe.MatchString(fl.Field().String())
	})
}
