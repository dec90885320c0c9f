package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Defaults.Port != 1080 {
		t.Errorf("default port = %d, want 1080", cfg.Defaults.Port)
	}
	if !cfg.Defaults.SystemProxy {
		t.Error("system proxy should default to enabled")
	}
	if cfg.Retry.Attempts != 3 {
		t.Errorf("retry attempts = %d, want 3", cfg.Retry.Attempts)
	}
	if cfg.Timeouts.InstanceReady != 2*time.Minute {
		t.Errorf("instance ready window = %v, want 2m", cfg.Timeouts.InstanceReady)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		t.Errorf("default config failed validation: %v", errs)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{
			name:   "unknown region",
			mutate: func(c *Config) { c.Defaults.Region = "moon-base-1" },
			field:  "defaults.region",
		},
		{
			name:   "port too low",
			mutate: func(c *Config) { c.Defaults.Port = 0 },
			field:  "defaults.port",
		},
		{
			name:   "port too high",
			mutate: func(c *Config) { c.Defaults.Port = 70000 },
			field:  "defaults.port",
		},
		{
			name:   "zero attempts",
			mutate: func(c *Config) { c.Retry.Attempts = 0 },
			field:  "retry.attempts",
		},
		{
			name:   "negative delay",
			mutate: func(c *Config) { c.Retry.Delay = -time.Second },
			field:  "retry.delay",
		},
		{
			name:   "zero instance readiness window",
			mutate: func(c *Config) { c.Timeouts.InstanceReady = 0 },
			field:  "timeouts.instance_ready",
		},
		{
			name:   "bad log level",
			mutate: func(c *Config) { c.Logging.Level = "loud" },
			field:  "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			if len(errs) == 0 {
				t.Fatal("expected validation error, got none")
			}
			found := false
			for _, e := range errs {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("no error for field %q in %v", tt.field, errs)
			}
		})
	}
}

func TestValidate_KnownRegionAccepted(t *testing.T) {
	cfg := Default()
	cfg.Defaults.Region = "eu-west-2"
	if errs := cfg.Validate(); len(errs) > 0 {
		t.Errorf("valid region rejected: %v", errs)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a", Value: 1, Message: "bad"},
		{Field: "b", Value: 2, Message: "also bad"},
	}
	msg := errs.Error()
	if !strings.Contains(msg, "2 validation errors") {
		t.Errorf("multi-error message missing count: %q", msg)
	}
	single := ValidationErrors{errs[0]}
	if single.Error() != errs[0].Error() {
		t.Errorf("single error message = %q, want %q", single.Error(), errs[0].Error())
	}
}
