package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// Load reads the YAML file at path and the .env file at dotenv on top of
// the defaults, then applies TURNLOOP_* overrides and validates the
// result. Missing files are skipped; empty paths mean none.
func Load(path, dotenv string) (*Config, error) {
	k := koanf.New(".")
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: accessing %s: %w", path, err)
		}
	}

	// .env values only fill variables the environment does not set.
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: reading %s: %w", dotenv, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshalling: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps TURNLOOP_PIPELINE__MAX_RETRIES to pipeline.max_retries.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Save writes the configuration as YAML, creating the parent directory.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshalling: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: creating directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("koanf"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints and the rules that span fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("config: %w", err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, describe(fe))
		}
		return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
	}

	if c.Pipeline.MaxAttempts > c.Pipeline.MaxIterations {
		return fmt.Errorf("config: pipeline.max_attempts (%d) must not exceed pipeline.max_iterations (%d)",
			c.Pipeline.MaxAttempts, c.Pipeline.MaxIterations)
	}
	for _, d := range c.Tools.Deny {
		for _, a := range c.Tools.Allow {
			if a == d {
				return fmt.Errorf("config: tool %q is both allowed and denied", d)
			}
		}
	}
	return nil
}

// describe turns a validation failure into "log.level: must be one of ...".
func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + ": is required"
	case "required_if":
		return field + ": is required when " + strings.ReplaceAll(fe.Param(), " ", " is ")
	case "oneof":
		return field + ": must be one of " + fe.Param()
	case "gte":
		return field + ": must be at least " + fe.Param()
	case "lte":
		return field + ": must be at most " + fe.Param()
	case "gt":
		return field + ": must be greater than " + fe.Param()
	case "url":
		return field + ": must be a URL"
	case "hostname_port":
		return field + ": must be host:port"
	default:
		return fmt.Sprintf("%s: failed %s", field, fe.Tag())
	}
}
