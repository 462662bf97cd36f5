package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags plus the semantic rules tags can't express
// (duration syntax, provider name uniqueness, kind-specific fields).
//
// Schedule syntax for the janitor lives with the janitor; the app's
// validator hook composes both.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil")
	}

	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config: field %s fails %q", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("config: %w", err)
	}

	durations := []struct{ path, raw string }{
		{"dispatch.base_backoff", cfg.Dispatch.BaseBackoff},
		{"dispatch.request_timeout", cfg.Dispatch.RequestTimeout},
		{"dispatch.tick_interval", cfg.Dispatch.TickInterval},
		{"admin.read_timeout", cfg.Admin.ReadTimeout},
		{"admin.write_timeout", cfg.Admin.WriteTimeout},
		{"admin.idle_timeout", cfg.Admin.IdleTimeout},
	}
	if cfg.Janitor != nil {
		durations = append(durations, struct{ path, raw string }{"janitor.retention", cfg.Janitor.Retention})
	}
	if cfg.Storage != nil {
		durations = append(durations, struct{ path, raw string }{"storage.busy_timeout", cfg.Storage.BusyTimeout})
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	seen := make(map[string]struct{}, len(cfg.Providers))
	for i, p := range cfg.Providers {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return fmt.Errorf("providers[%d]: name is required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("providers[%d]: duplicate name %q", i, name)
		}
		seen[name] = struct{}{}

		switch p.Kind {
		case "http":
			if strings.TrimSpace(p.URL) == "" {
				return fmt.Errorf("providers[%d] (%s): url is required for kind http", i, name)
			}
		case "sim":
			if _, err := ParseDurationField(fmt.Sprintf("providers[%d].latency", i), p.Latency); err != nil {
				return err
			}
		}
	}

	return nil
}
