package auth

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// AllTenants is the tenant label carried by admin identities.
const AllTenants = "ALL"

func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleUser:
		return RoleUser, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

type Identity struct {
	Username string
	TenantID string
	Role     Role
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

type CredentialValidator interface {
	Authenticate(ctx context.Context, username, password string) (Identity, bool)
}

type credential struct {
	hash     []byte
	identity Identity
}

type StaticCredentialValidator struct {
	users map[string]credential
}

// NewStaticCredentialValidator parses entries of the form
// username:bcrypt-hash:tenant:role separated by commas.
func NewStaticCredentialValidator(users string) (*StaticCredentialValidator, error) {
	validator := &StaticCredentialValidator{users: map[string]credential{}}
	users = strings.TrimSpace(users)
	if users == "" {
		return validator, nil
	}

	for _, entry := range strings.Split(users, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 4 {
			return nil, fmt.Errorf("invalid static user entry %q: expected username:hash:tenant:role", entry)
		}
		username := strings.TrimSpace(parts[0])
		hash := strings.TrimSpace(parts[1])
		tenant := strings.TrimSpace(parts[2])
		if username == "" || hash == "" || tenant == "" {
			return nil, fmt.Errorf("invalid static user entry %q: empty username/hash/tenant", entry)
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("invalid static user entry %q: password hash: %w", username, err)
		}
		role, err := ParseRole(parts[3])
		if err != nil {
			return nil, fmt.Errorf("invalid static user entry %q: %w", username, err)
		}
		if role == RoleAdmin {
			tenant = AllTenants
		}
		if _, exists := validator.users[username]; exists {
			return nil, fmt.Errorf("duplicate static user %q", username)
		}
		validator.users[username] = credential{
			hash:     []byte(hash),
			identity: Identity{Username: username, TenantID: tenant, Role: role},
		}
	}
	return validator, nil
}

func (v *StaticCredentialValidator) Authenticate(_ context.Context, username, password string) (Identity, bool) {
	cred, ok := v.users[strings.TrimSpace(username)]
	if !ok {
		return Identity{}, false
	}
	if err := bcrypt.CompareHashAndPassword(cred.hash, []byte(password)); err != nil {
		return Identity{}, false
	}
	return cred.identity, true
}

func (v *StaticCredentialValidator) Len() int {
	return len(v.users)
}

func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
