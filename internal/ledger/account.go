package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	// AccountScopeVault is a token vault the exchange controls.
	AccountScopeVault AccountScope = iota
	// AccountScopeWallet is a user's token account outside the exchange.
	AccountScopeWallet
	// AccountScopeExternal is the boundary tokens enter the system through.
	AccountScopeExternal
)

func (s AccountScope) String() string {
	switch s {
	case AccountScopeVault:
		return "vault"
	case AccountScopeWallet:
		return "wallet"
	case AccountScopeExternal:
		return "external"
	default:
		return "unknown"
	}
}

// AccountKey identifies one token account. It is comparable and used as a
// map key by BalanceTracker.
type AccountKey struct {
	Scope AccountScope
	Name  string
}

func VaultAccount(name string) AccountKey {
	return AccountKey{Scope: AccountScopeVault, Name: name}
}

func WalletAccount(user uuid.UUID) AccountKey {
	return AccountKey{Scope: AccountScopeWallet, Name: user.String()}
}

func ExternalAccount(name string) AccountKey {
	return AccountKey{Scope: AccountScopeExternal, Name: name}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	return k.Scope.String() + ":" + k.Name
}

func (k AccountKey) String() string { return k.AccountPath() }

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	scope, name, ok := strings.Cut(path, ":")
	if !ok || name == "" {
		return AccountKey{}, fmt.Errorf("malformed account path %q", path)
	}
	switch scope {
	case "vault":
		return VaultAccount(name), nil
	case "wallet":
		if _, err := uuid.Parse(name); err != nil {
			return AccountKey{}, fmt.Errorf("wallet account %q: %w", path, err)
		}
		return AccountKey{Scope: AccountScopeWallet, Name: name}, nil
	case "external":
		return ExternalAccount(name), nil
	default:
		return AccountKey{}, fmt.Errorf("unknown account scope %q", scope)
	}
}

func (k AccountKey) MarshalText() ([]byte, error) { return []byte(k.AccountPath()), nil }

func (k *AccountKey) UnmarshalText(b []byte) error {
	parsed, err := ParseAccountPath(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
