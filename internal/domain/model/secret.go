package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const maxSecretNameLen = 255

var secretNameRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidateSecretName checks that a name is usable as a __NAME__ placeholder
// inside definitions and as an environment variable suffix.
func ValidateSecretName(name string) error {
	n := strings.TrimSpace(name)
	switch {
	case n == "":
		return errors.New("name is required and cannot be empty")
	case utf8.RuneCountInString(n) > maxSecretNameLen:
		return fmt.Errorf("name cannot exceed %d characters", maxSecretNameLen)
	case !secretNameRe.MatchString(n):
		return errors.New("name must contain only letters, digits, or underscores")
	}
	return nil
}

// Secret is one named piece of credential material. Values come from the
// configured secret source (environment by default) and are never persisted
// by this service.
type Secret struct {
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
}
