package data

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/target/netops-go/internal/domain/model"
)

var (
	// ErrSecretNotFound is returned when a secret is not found.
	ErrSecretNotFound = errors.New("secret not found")
	// ErrInvalidSecretName is returned for names that cannot map to an
	// environment variable.
	ErrInvalidSecretName = errors.New("invalid secret name")
)

// DefaultSecretEnvPrefix is the environment prefix secrets are read from.
const DefaultSecretEnvPrefix = "NETOPS_SECRET_"

var secretNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// EnvSecretRepo resolves secrets from process environment variables. A
// secret named ssh_password is read from NETOPS_SECRET_SSH_PASSWORD.
// Credential material stays in the deployment environment; definitions
// only ever carry names.
type EnvSecretRepo struct {
	prefix string
	lookup func(string) (string, bool)
}

// NewEnvSecretRepo creates an EnvSecretRepo with the default prefix.
func NewEnvSecretRepo() *EnvSecretRepo {
	return &EnvSecretRepo{prefix: DefaultSecretEnvPrefix, lookup: os.LookupEnv}
}

// NewEnvSecretRepoWithLookup allows injecting a custom lookup (for testing).
func NewEnvSecretRepoWithLookup(prefix string, lookup func(string) (string, bool)) *EnvSecretRepo {
	if prefix == "" {
		prefix = DefaultSecretEnvPrefix
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &EnvSecretRepo{prefix: prefix, lookup: lookup}
}

// GetByName fetches a secret by name, value included. Names are
// case-insensitive: both ssh_password and SSH_PASSWORD resolve the same
// variable.
func (r *EnvSecretRepo) GetByName(ctx context.Context, name string) (*model.Secret, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is empty", ErrInvalidSecretName)
	}
	if !secretNamePattern.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSecretName, name)
	}

	key := r.prefix + strings.ToUpper(name)
	value, ok := r.lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}

	return &model.Secret{Name: name, Value: value}, nil
}
