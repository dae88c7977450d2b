package domain

import (
	"os"
	"path/filepath"
	"testing"
)

type testIdentityConfig struct {
	Identity Name   `validate:"required"`
	Server   string `validate:"omitempty,dns_name"`
	KeyPath  string `validate:"required,file_exists"`
	Listen   string `validate:"omitempty,hostname_port"`
	Format   string `validate:"omitempty,oneof=text json"`
}

func TestValidateStruct(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "key.p8")
	if err := os.WriteFile(keyPath, []byte("key"), 0o600); err != nil {
		t.Fatalf("WriteFile() unexpected error: %v", err)
	}

	valid := func() testIdentityConfig {
		return testIdentityConfig{
			Identity: MustName("web.default.svc"),
			Server:   "api.default.svc",
			KeyPath:  keyPath,
			Listen:   "127.0.0.1:4143",
			Format:   "json",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*testIdentityConfig)
		wantTag string
	}{
		{name: "valid", mutate: func(*testIdentityConfig) {}},
		{name: "missing identity", mutate: func(c *testIdentityConfig) { c.Identity = Name{} }, wantTag: "required"},
		{name: "bad dns name", mutate: func(c *testIdentityConfig) { c.Server = "*.default.svc" }, wantTag: "dns_name"},
		{name: "missing key file", mutate: func(c *testIdentityConfig) { c.KeyPath = filepath.Join(dir, "absent") }, wantTag: "file_exists"},
		{name: "key path is a directory", mutate: func(c *testIdentityConfig) { c.KeyPath = dir }, wantTag: "file_exists"},
		{name: "bad listen address", mutate: func(c *testIdentityConfig) { c.Listen = "no-port" }, wantTag: "hostname_port"},
		{name: "bad format", mutate: func(c *testIdentityConfig) { c.Format = "xml" }, wantTag: "oneof"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := ValidateStruct(cfg)
			if tt.wantTag == "" {
				if err != nil {
					t.Fatalf("ValidateStruct() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("ValidateStruct() expected %s error, got nil", tt.wantTag)
			}

			errs := ConvertValidationErrors(err)
			if len(errs) != 1 {
				t.Fatalf("ConvertValidationErrors() = %d errors, expected 1: %v", len(errs), errs)
			}
			if errs[0].Tag != tt.wantTag {
				t.Errorf("tag = %q, expected %q", errs[0].Tag, tt.wantTag)
			}
			if errs[0].Message == "" || errs[0].Error() == "" {
				t.Error("expected a readable message")
			}
		})
	}
}

func TestValidateVar(t *testing.T) {
	v := NewValidator()

	if err := v.ValidateVar("web.default.svc", "dns_name"); err != nil {
		t.Errorf("ValidateVar(valid) unexpected error: %v", err)
	}
	if err := v.ValidateVar("web..svc", "dns_name"); err == nil {
		t.Error("ValidateVar(invalid) expected error, got nil")
	}
	if err := v.ValidateVar("", "dns_name"); err != nil {
		t.Errorf("ValidateVar(empty) unexpected error: %v", err)
	}
}
