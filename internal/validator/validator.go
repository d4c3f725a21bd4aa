// Package validator checks user-submitted links before any network activity.
package validator

import (
	"errors"
	"strings"
)

var (
	ErrEmpty         = errors.New("link is empty")
	ErrInvalidDomain = errors.New("link does not belong to the expected site")
)

// Validate returns ErrEmpty when the trimmed input is empty and
// ErrInvalidDomain when it does not contain domainToken.
func Validate(input string, domainToken string) error {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ErrEmpty
	}
	if !strings.Contains(trimmed, domainToken) {
		return ErrInvalidDomain
	}
	return nil
}
