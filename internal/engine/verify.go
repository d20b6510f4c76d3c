package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	minisign "github.com/jedisct1/go-minisign"
)

// Verifier validates the audit-engine bundle against a detached Minisign
// signature before the first audit runs. Auto-updated engine installs make
// this worth checking: a tampered or truncated bundle would otherwise only
// surface as attempt failures.
type Verifier struct {
	publicKey minisign.PublicKey
}

// NewVerifier parses the trusted Minisign public key (including comment header).
func NewVerifier(pubKey string) (*Verifier, error) {
	pubKey = strings.TrimSpace(pubKey)
	if pubKey == "" {
		return nil, errors.New("minisign public key is required")
	}
	publicKey, err := minisign.DecodePublicKey(pubKey)
	if err != nil {
		return nil, fmt.Errorf("parse minisign public key: %w", err)
	}
	return &Verifier{publicKey: publicKey}, nil
}

// Verify reads the bundle and detached signature from disk and validates them.
func (v *Verifier) Verify(ctx context.Context, bundlePath, signaturePath string) error {
	if v == nil {
		return errors.New("signature verifier not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(bundlePath) == "" {
		return errors.New("bundle path is required")
	}
	if strings.TrimSpace(signaturePath) == "" {
		return errors.New("signature path is required")
	}

	signatureBytes, err := os.ReadFile(signaturePath)
	if err != nil {
		return fmt.Errorf("read signature %q: %w", signaturePath, err)
	}
	signature, err := minisign.DecodeSignature(string(signatureBytes))
	if err != nil {
		return fmt.Errorf("decode signature %q: %w", signaturePath, err)
	}
	bundleBytes, err := os.ReadFile(bundlePath)
	if err != nil {
		return fmt.Errorf("read bundle %q: %w", bundlePath, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ok, err := v.publicKey.Verify(bundleBytes, signature)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("signature verification failed")
	}
	return nil
}
