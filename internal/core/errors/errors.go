// Package errors defines the error taxonomy shared by the credential store,
// the certificate resolver and the signing adapter.
package errors

import "fmt"

// DomainError represents errors in the domain logic
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a DomainError with the same code, so that
// errors.Is(err, ErrCertificateInvalid) holds for wrapped copies.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Startup errors abort initialization. Rotation errors are returned to the
// issuance driver. Handshake errors surface through crypto/tls.
var (
	ErrConfig = &DomainError{
		Code:    "CONFIG_ERROR",
		Message: "configuration is invalid",
	}

	// ErrInvalidTrustRoots is the ConfigError raised when the trust anchors
	// contain no usable certificate.
	ErrInvalidTrustRoots = &DomainError{
		Code:    "INVALID_TRUST_ROOTS",
		Message: "invalid trust roots",
	}

	ErrInvalidKey = &DomainError{
		Code:    "INVALID_KEY",
		Message: "private key is not a valid ECDSA P-256 PKCS#8 key",
	}

	ErrInvalidName = &DomainError{
		Code:    "INVALID_NAME",
		Message: "identity name is not a valid DNS name",
	}

	ErrCertificateInvalid = &DomainError{
		Code:    "CERTIFICATE_INVALID",
		Message: "certificate is not valid for the local identity",
	}

	ErrSigningFailed = &DomainError{
		Code:    "SIGNING_FAILED",
		Message: "signing failed",
	}

	ErrResolutionRefused = &DomainError{
		Code:    "RESOLUTION_REFUSED",
		Message: "no certificate available",
	}
)

// NewDomainError creates a new domain error with context
func NewDomainError(base *DomainError, err error) error {
	return &DomainError{
		Code:    base.Code,
		Message: base.Message,
		Err:     err,
	}
}

// IsConfigError reports whether err is one of the startup configuration
// errors. Trust root failures count as configuration errors.
func IsConfigError(err error) bool {
	return isCode(err, ErrConfig.Code) || isCode(err, ErrInvalidTrustRoots.Code)
}

func isCode(err error, code string) bool {
	for err != nil {
		if de, ok := err.(*DomainError); ok && de.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
