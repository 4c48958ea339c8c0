// Package certs loads client certificates and derives the identity strings
// used when a certificate authenticates a selection (PKINIT, IAKERB, PKU2U).
package certs

import (
	"crypto"
	"crypto/sha1" //nolint:gosec // identity fingerprint, not a security boundary
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/crypto/pkcs12"
)

// ErrNoCertificate is returned when input holds no usable certificate.
var ErrNoCertificate = errors.New("certs: no certificate found")

// Certificate is a client certificate with its optional private key.
type Certificate struct {
	// Cert is the parsed leaf certificate.
	Cert *x509.Certificate

	// Key is the private key, when the source carried one.
	Key crypto.PrivateKey

	// Source names where the certificate came from (file path or caller tag).
	Source string
}

// Label returns a human-readable label: the subject common name, falling back
// to the first e-mail SAN and then to the fingerprint.
func (c *Certificate) Label() string {
	if c == nil || c.Cert == nil {
		return ""
	}
	if cn := strings.TrimSpace(c.Cert.Subject.CommonName); cn != "" {
		return cn
	}
	if len(c.Cert.EmailAddresses) > 0 {
		return c.Cert.EmailAddresses[0]
	}
	return c.Fingerprint()
}

// Fingerprint returns the upper-case hex SHA-1 of the DER encoding.
func (c *Certificate) Fingerprint() string {
	if c == nil || c.Cert == nil {
		return ""
	}
	sum := sha1.Sum(c.Cert.Raw) //nolint:gosec
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// ReferenceIdentity returns the identity string a certificate-backed
// principal is named by. Local-KDC realms name certificate users by
// fingerprint, so that is what is returned.
func (c *Certificate) ReferenceIdentity() string {
	return c.Fingerprint()
}

// HasPrivateKey reports whether the certificate can be used to sign.
func (c *Certificate) HasPrivateKey() bool {
	return c != nil && c.Key != nil
}

// ParsePEM returns every certificate in data, attaching the first private
// key found to the first certificate.
func ParsePEM(data []byte, source string) ([]*Certificate, error) {
	var (
		out []*Certificate
		key crypto.PrivateKey
	)
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse certificate in %s: %w", source, err)
			}
			out = append(out, &Certificate{Cert: cert, Source: source})
		case "PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY":
			if key != nil {
				continue
			}
			k, err := parsePrivateKey(block)
			if err != nil {
				return nil, fmt.Errorf("parse key in %s: %w", source, err)
			}
			key = k
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", source, ErrNoCertificate)
	}
	out[0].Key = key
	return out, nil
}

func parsePrivateKey(block *pem.Block) (crypto.PrivateKey, error) {
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	default:
		return x509.ParsePKCS8PrivateKey(block.Bytes)
	}
}

// LoadPKCS12 decodes a PKCS#12 bundle holding one certificate and key.
func LoadPKCS12(data []byte, passphrase, source string) (*Certificate, error) {
	key, cert, err := pkcs12.Decode(data, passphrase)
	if err != nil {
		return nil, fmt.Errorf("decode pkcs12 %s: %w", source, err)
	}
	return &Certificate{Cert: cert, Key: key, Source: source}, nil
}

// LoadFile loads a PEM file or, by extension .p12/.pfx, a PKCS#12 bundle.
func LoadFile(path, passphrase string) ([]*Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".p12", ".pfx":
		c, err := LoadPKCS12(data, passphrase, path)
		if err != nil {
			return nil, err
		}
		return []*Certificate{c}, nil
	default:
		return ParsePEM(data, path)
	}
}

// Store enumerates certificates available for client authentication.
type Store interface {
	Certificates() ([]*Certificate, error)
}

// DirStore serves every *.pem, *.crt, *.p12 and *.pfx file in a directory.
// Only certificates with a private key are returned.
type DirStore struct {
	Dir        string
	Passphrase string
}

// Certificates implements Store.
func (d DirStore) Certificates() ([]*Certificate, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return nil, fmt.Errorf("read certificate directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".pem", ".crt", ".p12", ".pfx":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []*Certificate
	for _, name := range names {
		loaded, err := LoadFile(filepath.Join(d.Dir, name), d.Passphrase)
		if err != nil {
			return nil, err
		}
		for _, c := range loaded {
			if c.HasPrivateKey() {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

// Static is a Store over a fixed list.
type Static []*Certificate

// Certificates implements Store.
func (s Static) Certificates() ([]*Certificate, error) {
	return s, nil
}
