// Package secrets defines the secret-manager contract provider
// configuration is stored behind, plus the in-memory and AWS backends.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrSecretNotFound reports that the named secret does not exist, as
// opposed to a backend failure.
var ErrSecretNotFound = errors.New("secret not found")

// Manager stores opaque secret payloads by name.
type Manager interface {
	ReadSecret(ctx context.Context, name string) ([]byte, error)
	WriteSecret(ctx context.Context, name string, value []byte) error
	DeleteSecret(ctx context.Context, name string) error
}

// Name builds the composite secret name for one installed provider.
func Name(tenantID, providerType, providerID string) string {
	return fmt.Sprintf("%s_%s_%s", tenantID, providerType, providerID)
}

// ReadJSON reads a secret and unmarshals it into out.
func ReadJSON(ctx context.Context, m Manager, name string, out any) error {
	data, err := m.ReadSecret(ctx, name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode secret %q: %w", name, err)
	}
	return nil
}

// WriteJSON marshals v and writes it as the named secret.
func WriteJSON(ctx context.Context, m Manager, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode secret %q: %w", name, err)
	}
	return m.WriteSecret(ctx, name, data)
}
