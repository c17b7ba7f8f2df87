package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const envPrefix = "TILEGATE_"

type (
	Config struct {
		Root           string        `env:"ROOT" validate:"required,dir"`
		Extension      string        `env:"EXTENSION" envDefault:".mbtiles" validate:"required,startswith=."`
		Watch          bool          `env:"WATCH" envDefault:"false"`
		WatchDebounce  time.Duration `env:"WATCH_DEBOUNCE" envDefault:"500ms" validate:"gte=0"`
		PreloadWorkers int           `env:"PRELOAD_WORKERS" envDefault:"0" validate:"gte=0"`
		AllowedOrigin  string        `env:"ALLOWED_ORIGIN" envDefault:""`
		HTTP           HTTP          `envPrefix:"HTTP_"`
		Logger         Logger        `envPrefix:"LOG_"`
		Telemetry      Telemetry     `envPrefix:"TELEMETRY_"`
	}

	HTTP struct {
		Port            int           `env:"PORT" envDefault:"3001" validate:"min=1,max=65535"`
		ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
		WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
		ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`
	}

	Logger struct {
		Level string `env:"LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	}

	Telemetry struct {
		Enabled        bool   `env:"ENABLED" envDefault:"false"`
		ServiceName    string `env:"SERVICE_NAME" envDefault:"tilegate"`
		ServiceVersion string `env:"SERVICE_VERSION" envDefault:"dev"`
		Environment    string `env:"ENVIRONMENT" envDefault:"production"`
		OTLPEndpoint   string `env:"OTLP_ENDPOINT" envDefault:"localhost:4317" validate:"required_if=Enabled true"`
	}
)

// Error reports an unusable configuration. It is fatal at startup.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return "invalid configuration: " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Load reads an optional .env file and the TILEGATE_* environment. The
// result still has to pass Validate once command-line overrides are applied.
func Load() (*Config, error) {
	// A missing .env file is normal.
	_ = godotenv.Load()

	cfg, err := env.ParseAsWithOptions[Config](env.Options{Prefix: envPrefix})
	if err != nil {
		return nil, &Error{Err: err}
	}

	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &Error{Err: err}
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return &Error{Err: errors.New(strings.Join(msgs, "; "))}
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "dir":
		return fmt.Sprintf("%s %q is not an existing directory", field, fe.Value())
	case "min", "max":
		return fmt.Sprintf("%s must be between 1 and 65535, got %v", field, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %q validation", field, fe.Tag())
	}
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTP.Port)
}
