// Package domain provides the identity value objects shared by the credential
// store and its readers.
package domain

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"

	domainerrors "github.com/sufield/meshtls/internal/core/errors"
)

const maxNameLength = 253

// hostnames is kept apart from GlobalValidator, whose dns_name tag calls
// back into NewName.
var hostnames = validator.New()

// Name is the proxy's own mesh identity in DNS form, for example
// "web.default.serviceaccount.identity.mesh.cluster.local".
// It is immutable once constructed.
type Name struct {
	value string // Private to enforce encapsulation
}

// NewName validates and normalizes a DNS-form identity name.
func NewName(name string) (Name, error) {
	trimmed := strings.ToLower(strings.TrimSpace(name))

	if trimmed == "" {
		return Name{}, domainerrors.NewDomainError(domainerrors.ErrInvalidName,
			fmt.Errorf("name cannot be empty"))
	}
	if len(trimmed) > maxNameLength {
		return Name{}, domainerrors.NewDomainError(domainerrors.ErrInvalidName,
			fmt.Errorf("name too long: maximum %d characters, got %d", maxNameLength, len(trimmed)))
	}
	if strings.HasSuffix(trimmed, ".") {
		return Name{}, domainerrors.NewDomainError(domainerrors.ErrInvalidName,
			fmt.Errorf("name %q must not end with a dot", trimmed))
	}
	if strings.Contains(trimmed, "*") {
		return Name{}, domainerrors.NewDomainError(domainerrors.ErrInvalidName,
			fmt.Errorf("name %q must not contain wildcards", trimmed))
	}
	if err := hostnames.Var(trimmed, "hostname_rfc1123"); err != nil {
		return Name{}, domainerrors.NewDomainError(domainerrors.ErrInvalidName,
			fmt.Errorf("name %q is not a valid DNS name", trimmed))
	}

	return Name{value: trimmed}, nil
}

// MustName is NewName for constants and tests.
func MustName(name string) Name {
	n, err := NewName(name)
	if err != nil {
		panic(err)
	}
	return n
}

// String returns the name as a string.
func (n Name) String() string {
	return n.value
}

// IsZero reports whether the name was never set.
func (n Name) IsZero() bool {
	return n.value == ""
}

// Equals compares two names for equality.
func (n Name) Equals(other Name) bool {
	return n.value == other.value
}

// MarshalText implements encoding.TextMarshaler.
func (n Name) MarshalText() ([]byte, error) {
	return []byte(n.value), nil
}

// UnmarshalText implements encoding.TextUnmarshaler with validation.
func (n *Name) UnmarshalText(text []byte) error {
	parsed, err := NewName(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// NameDecodeHook provides a mapstructure decode hook for Name so that viper
// can decode configuration strings directly into validated names.
func NameDecodeHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(Name{}) {
			return data, nil
		}
		if from.Kind() != reflect.String {
			return data, nil
		}
		s, ok := data.(string)
		if !ok {
			return data, nil
		}
		if strings.TrimSpace(s) == "" {
			return Name{}, nil
		}
		return NewName(s)
	}
}
