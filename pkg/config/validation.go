package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags, then the rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	if _, err := cfg.Gateway.Allowance(); err != nil {
		return fmt.Errorf("gateway.default_allowance: %w", err)
	}
	if err := cfg.Server.TLS.ValidateServer(); err != nil {
		return fmt.Errorf("server.tls: %w", err)
	}
	if err := cfg.Client.TLS.ValidateClient(); err != nil {
		return fmt.Errorf("client.tls: %w", err)
	}
	return nil
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
