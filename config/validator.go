package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// validate is the global validator instance.
var validate *validator.Validate

func init() {
	validate = validator.New()

	// Register custom validators
	_ = validate.RegisterValidation("env", validateEnvironment)
	_ = validate.RegisterValidation("file_exists", validateFileExists)
	_ = validate.RegisterValidation("dir_exists", validateDirExists)
	_ = validate.RegisterValidation("host", validateHost)

	validate.RegisterStructValidation(validateConfigStruct, Config{})
}

// ConfigError represents a validation error for a specific field.
type ConfigError struct {
	Field   string
	Message string
	Value   interface{}
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of config errors.
type ValidationErrors []ConfigError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// ValidateWithDetails performs validation and returns detailed errors.
func ValidateWithDetails(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			var details ValidationErrors
			for _, fe := range validationErrors {
				details = append(details, ConfigError{
					Field:   fe.Namespace(),
					Message: formatValidationError(fe),
					Value:   fe.Value(),
				})
			}
			return details
		}
		return err
	}
	return nil
}

// formatValidationError converts validator.FieldError to a human-readable message.
func formatValidationError(fe validator.FieldError) string {
	return formatTag(fe.Tag(), fe.Param())
}

func formatTag(tag, param string) string {
	switch tag {
	case "required":
		return "this field is required"
	case "required_for":
		return fmt.Sprintf("this field is required when %s", param)
	case "min":
		return fmt.Sprintf("must be at least %s", param)
	case "max":
		return fmt.Sprintf("must be at most %s", param)
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", param)
	case "gt":
		return fmt.Sprintf("must be greater than %s", param)
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", param)
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", param)
	case "env":
		return "must be one of [development staging production]"
	case "host":
		return "must be a valid host name or address"
	default:
		return fmt.Sprintf("failed validation: %s", tag)
	}
}

// validateConfigStruct checks the fields that only matter for the selected
// backends.
func validateConfigStruct(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)

	if cfg.Storage.Type == "badger" && strings.TrimSpace(cfg.Storage.Badger.Path) == "" {
		sl.ReportError(cfg.Storage.Badger.Path, "Storage.Badger.Path", "Path", "required_for", "storage.type=badger")
	}
	if cfg.Storage.Type == "redis" && strings.TrimSpace(cfg.Storage.Redis.Address) == "" {
		sl.ReportError(cfg.Storage.Redis.Address, "Storage.Redis.Address", "Address", "required_for", "storage.type=redis")
	}

	if cfg.Broker.Type == "redis" {
		if strings.TrimSpace(cfg.Broker.Redis.Address) == "" {
			sl.ReportError(cfg.Broker.Redis.Address, "Broker.Redis.Address", "Address", "required_for", "broker.type=redis")
		}
		if cfg.Broker.LockDuration <= 0 {
			sl.ReportError(cfg.Broker.LockDuration, "Broker.LockDuration", "LockDuration", "gt", "0")
		}
	}

	if cfg.Tracing.Enabled {
		if strings.TrimSpace(cfg.Tracing.Exporter) == "" {
			sl.ReportError(cfg.Tracing.Exporter, "Tracing.Exporter", "Exporter", "required_for", "tracing.enabled")
		}
		if strings.TrimSpace(cfg.Tracing.Endpoint) == "" {
			sl.ReportError(cfg.Tracing.Endpoint, "Tracing.Endpoint", "Endpoint", "required_for", "tracing.enabled")
		}
		if cfg.Tracing.Timeout <= 0 {
			sl.ReportError(cfg.Tracing.Timeout, "Tracing.Timeout", "Timeout", "gt", "0")
		}
	}
}

// validateEnvironment is a custom validator for environment values.
func validateEnvironment(fl validator.FieldLevel) bool {
	env := fl.Field().String()
	validEnvs := []string{"development", "staging", "production"}
	for _, valid := range validEnvs {
		if env == valid {
			return true
		}
	}
	return false
}

// validateFileExists accepts an empty path or a path to a regular file.
func validateFileExists(fl validator.FieldLevel) bool {
	path := fl.Field().String()
	if path == "" {
		return true
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// validateDirExists accepts an empty path or a path to a directory.
func validateDirExists(fl validator.FieldLevel) bool {
	path := fl.Field().String()
	if path == "" {
		return true
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// validateHost accepts an empty value, an IP address (optionally with a
// port) or a host name.
func validateHost(fl validator.FieldLevel) bool {
	host := fl.Field().String()
	if host == "" {
		return true
	}
	if net.ParseIP(host) != nil {
		return true
	}
	if h, _, err := net.SplitHostPort(host); err == nil && net.ParseIP(h) != nil {
		return true
	}
	for _, r := range host {
		if !isValidHostChar(r) {
			return false
		}
	}
	return true
}

func isValidHostChar(r rune) bool {
	if r > unicode.MaxASCII {
		return false
	}
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.' || r == ':' || r == '_'
}
