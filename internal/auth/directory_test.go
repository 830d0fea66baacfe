package auth

import (
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-esd/internal/infrastructure/config"
)

func hashFor(t *testing.T, password string) string {
	t.Helper()
	h, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	return h
}

func TestDirectoryAuthenticate(t *testing.T) {
	dir, err := NewDirectory([]config.OperatorConfig{
		{Username: "operator1", PasswordHash: hashFor(t, "op-pass"), Role: "operator"},
		{Username: "supervisor1", PasswordHash: hashFor(t, "sup-pass"), Role: "supervisor"},
	})
	if err != nil {
		t.Fatalf("NewDirectory() error = %v", err)
	}

	op, err := dir.Authenticate("supervisor1", "sup-pass")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if op.Username != "supervisor1" || op.Role != RoleSupervisor {
		t.Errorf("Authenticate() = %+v", op)
	}

	for _, tt := range []struct{ user, pass string }{
		{"operator1", "sup-pass"},
		{"operator1", ""},
		{"nobody", "op-pass"},
	} {
		if _, err := dir.Authenticate(tt.user, tt.pass); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Authenticate(%q, %q) error = %v, want ErrInvalidCredentials", tt.user, tt.pass, err)
		}
	}

	if _, ok := dir.Lookup("operator1"); !ok {
		t.Error("Lookup(operator1) not found")
	}
	if got := dir.Usernames(); len(got) != 2 || got[0] != "operator1" {
		t.Errorf("Usernames() = %v", got)
	}
}

func TestNewDirectoryRejectsBadAccounts(t *testing.T) {
	good := hashFor(t, "pw")
	tests := []struct {
		name     string
		accounts []config.OperatorConfig
	}{
		{"bad username", []config.OperatorConfig{{Username: "bad name", PasswordHash: good, Role: "operator"}}},
		{"unknown role", []config.OperatorConfig{{Username: "op", PasswordHash: good, Role: "admin"}}},
		{"plain password", []config.OperatorConfig{{Username: "op", PasswordHash: "secret", Role: "operator"}}},
		{"duplicate", []config.OperatorConfig{
			{Username: "op", PasswordHash: good, Role: "operator"},
			{Username: "op", PasswordHash: good, Role: "supervisor"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewDirectory(tt.accounts); !errors.Is(err, ErrInvalidOperator) {
				t.Errorf("NewDirectory() error = %v, want ErrInvalidOperator", err)
			}
		})
	}
}
