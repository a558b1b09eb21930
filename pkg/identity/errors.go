package identity

import (
	"errors"
	"fmt"
	"strings"
)

// AmbiguousIdentityError indicates the external-identity lookup matched more
// than one distinct local account. This is a data-integrity problem and is
// never resolved by picking one of the matches.
type AmbiguousIdentityError struct {
	NameID  string
	Matches []string
}

func (e *AmbiguousIdentityError) Error() string {
	return fmt.Sprintf("ambiguous external identity %q: matches accounts [%s]",
		e.NameID, strings.Join(e.Matches, ", "))
}

// IsAmbiguousIdentity checks if an error is an ambiguous identity error
func IsAmbiguousIdentity(err error) bool {
	var target *AmbiguousIdentityError
	return errors.As(err, &target)
}

// UsernameGenerationError indicates that every configured username-source
// field was blank, so no local account name could be derived.
type UsernameGenerationError struct {
	NameID string
}

func (e *UsernameGenerationError) Error() string {
	return fmt.Sprintf("could not generate a username for external identity %q: all configured source fields are blank", e.NameID)
}

// IsUsernameGeneration checks if an error is a username generation error
func IsUsernameGeneration(err error) bool {
	var target *UsernameGenerationError
	return errors.As(err, &target)
}

// AccountCreationError indicates the record store refused to create the
// account. Code carries the store's result code.
type AccountCreationError struct {
	NameID string
	Code   int
}

func (e *AccountCreationError) Error() string {
	return fmt.Sprintf("store failed to create account for external identity %q: result code %d", e.NameID, e.Code)
}

// IsAccountCreation checks if an error is an account creation error
func IsAccountCreation(err error) bool {
	var target *AccountCreationError
	return errors.As(err, &target)
}

// PersistenceError wraps a lower-level record store read/write failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistence checks if an error is a persistence error
func IsPersistence(err error) bool {
	var target *PersistenceError
	return errors.As(err, &target)
}
