package auth

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/gray-logic-esd/internal/infrastructure/config"
)

// Directory holds the operator accounts declared in configuration.
// It is read-only after construction.
type Directory struct {
	operators map[string]Operator
}

// NewDirectory builds a directory from the security.operators config section.
// Every entry needs a valid username, a known role and a parseable argon2id hash.
func NewDirectory(accounts []config.OperatorConfig) (*Directory, error) {
	d := &Directory{operators: make(map[string]Operator, len(accounts))}
	for i, a := range accounts {
		if !IsValidUsername(a.Username) {
			return nil, fmt.Errorf("%w: operators[%d]: invalid username %q", ErrInvalidOperator, i, a.Username)
		}
		if _, dup := d.operators[a.Username]; dup {
			return nil, fmt.Errorf("%w: duplicate username %q", ErrInvalidOperator, a.Username)
		}
		role := Role(a.Role)
		if !IsValidRole(role) {
			return nil, fmt.Errorf("%w: %s: unknown role %q", ErrInvalidOperator, a.Username, a.Role)
		}
		if _, _, _, err := decodePHC(a.PasswordHash); err != nil {
			return nil, fmt.Errorf("%w: %s: password hash: %w", ErrInvalidOperator, a.Username, err)
		}
		d.operators[a.Username] = Operator{Username: a.Username, Role: role, PasswordHash: a.PasswordHash}
	}
	return d, nil
}

// Authenticate checks a username and password. Unknown usernames still
// cost one argon2id derivation so response timing does not reveal them.
func (d *Directory) Authenticate(username, password string) (Operator, error) {
	op, ok := d.operators[username]
	if !ok {
		//nolint:errcheck // result discarded; only the timing matters
		VerifyPassword(password, timingHash())
		return Operator{}, ErrInvalidCredentials
	}

	match, err := VerifyPassword(password, op.PasswordHash)
	if err != nil {
		return Operator{}, fmt.Errorf("verifying %s: %w", username, err)
	}
	if !match {
		return Operator{}, ErrInvalidCredentials
	}
	return op, nil
}

// Lookup returns the operator with the given username.
func (d *Directory) Lookup(username string) (Operator, bool) {
	op, ok := d.operators[username]
	return op, ok
}

// Usernames returns every configured username, sorted.
func (d *Directory) Usernames() []string {
	out := make([]string, 0, len(d.operators))
	for name := range d.operators {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

var (
	timingOnce sync.Once
	timingPHC  string
)

// timingHash lazily derives a throwaway hash with production parameters.
func timingHash() string {
	timingOnce.Do(func() {
		h, err := HashPassword("unknown-operator")
		if err == nil {
			timingPHC = h
		}
	})
	return timingPHC
}
