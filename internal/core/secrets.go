package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ResolveSecretPlaceholders substitutes __NAME__ tokens in content with the
// named secrets' values. Login passwords and command templates use this
// form so definitions never embed credential material. Only the requested
// names resolve, and a name whose token never appears is not fetched.
func ResolveSecretPlaceholders(
	ctx context.Context,
	repo SecretRepository,
	secretNames []string,
	content string,
) (string, error) {
	if len(secretNames) == 0 || strings.TrimSpace(content) == "" {
		return content, nil
	}
	if repo == nil {
		return "", errors.New("secret repository not configured")
	}

	var pairs []string
	fetched := make(map[string]struct{}, len(secretNames))
	for _, name := range secretNames {
		name = strings.TrimSpace(name)
		if _, done := fetched[name]; name == "" || done {
			continue
		}
		fetched[name] = struct{}{}

		token := "__" + name + "__"
		if !strings.Contains(content, token) {
			continue
		}
		secret, err := repo.GetByName(ctx, name)
		if err != nil {
			return "", fmt.Errorf("resolve secret %q: %w", name, err)
		}
		pairs = append(pairs, token, secret.Value)
	}
	if len(pairs) == 0 {
		return content, nil
	}

	// Single-pass replacement: a secret value that itself contains a
	// __NAME__ token is never expanded again.
	return strings.NewReplacer(pairs...).Replace(content), nil
}
