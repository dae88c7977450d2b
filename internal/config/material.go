package config

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// Material is the startup input of the credential store.
type Material struct {
	RootsPEM string
	KeyPKCS8 []byte
	CSR      []byte
}

// LoadMaterial reads the files named by c. Key and CSR files may be PEM or
// DER; a SEC 1 "EC PRIVATE KEY" is converted to PKCS#8.
func (c *Config) LoadMaterial() (*Material, error) {
	roots, err := os.ReadFile(c.TrustRootsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read trust roots: %w", err)
	}

	keyData, err := os.ReadFile(c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	key, err := decodeKey(keyData)
	if err != nil {
		return nil, err
	}

	var csr []byte
	if c.CSRFile != "" {
		data, err := os.ReadFile(c.CSRFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CSR: %w", err)
		}
		csr = decodeOptionalPEM(data, "CERTIFICATE REQUEST")
	}

	return &Material{RootsPEM: string(roots), KeyPKCS8: key, CSR: csr}, nil
}

func decodeKey(data []byte) ([]byte, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return data, nil
	}

	switch block.Type {
	case "PRIVATE KEY":
		return block.Bytes, nil
	case "EC PRIVATE KEY":
		ec, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse EC private key: %w", err)
		}
		der, err := x509.MarshalPKCS8PrivateKey(ec)
		if err != nil {
			return nil, fmt.Errorf("failed to convert EC private key: %w", err)
		}
		return der, nil
	default:
		return nil, fmt.Errorf("unsupported private key PEM block %q", block.Type)
	}
}

func decodeOptionalPEM(data []byte, blockType string) []byte {
	block, _ := pem.Decode(data)
	if block != nil && block.Type == blockType {
		return block.Bytes
	}
	return data
}
