package cli

import (
	"errors"

	domainerrors "github.com/sufield/meshtls/internal/core/errors"
)

// Sentinel errors for exit code classification
var (
	// ErrUsage indicates invalid command usage, flags, or arguments
	ErrUsage = errors.New("usage error")

	// ErrConfig indicates invalid configuration or unusable key material
	ErrConfig = errors.New("configuration error")

	// ErrAuth indicates a certificate that cannot be used as the identity
	ErrAuth = errors.New("authentication error")

	// ErrRuntime indicates runtime execution failures
	ErrRuntime = errors.New("runtime error")

	// ErrInternal indicates internal system errors
	ErrInternal = errors.New("internal error")
)

// Exit codes returned by the meshtls binary.
const (
	ExitOK       = 0
	ExitUsage    = 2
	ExitConfig   = 3
	ExitAuth     = 4
	ExitRuntime  = 5
	ExitInternal = 6
)

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrUsage):
		return ExitUsage
	case errors.Is(err, ErrConfig),
		domainerrors.IsConfigError(err),
		errors.Is(err, domainerrors.ErrInvalidKey):
		return ExitConfig
	case errors.Is(err, ErrAuth),
		errors.Is(err, domainerrors.ErrCertificateInvalid):
		return ExitAuth
	case errors.Is(err, ErrRuntime):
		return ExitRuntime
	default:
		return ExitInternal
	}
}
