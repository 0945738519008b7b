package ledger

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/jmerrifield20/chainledger/internal/icrc3"
	"github.com/jmerrifield20/chainledger/internal/identity"
)

// SubaccountLen is the only non-empty subaccount length accepted.
const SubaccountLen = 32

// Subaccount distinguishes accounts of one owner. Empty and all-zero are the
// same default subaccount.
type Subaccount []byte

func (s Subaccount) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(s)), nil
}

func (s *Subaccount) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("parse subaccount: %w", err)
	}
	*s = b
	return nil
}

func (s Subaccount) isDefault() bool {
	return len(s) == 0 || bytes.Equal(s, make([]byte, SubaccountLen))
}

// Account is an (owner, subaccount) pair.
type Account struct {
	Owner      identity.Principal `json:"owner"`
	Subaccount Subaccount         `json:"subaccount,omitempty"`
}

// Key is the canonical text form "<owner hex>.<subaccount hex>", with the
// default subaccount rendered empty.
func (a Account) Key() string {
	if a.Subaccount.isDefault() {
		return a.Owner.String() + "."
	}
	return a.Owner.String() + "." + hex.EncodeToString(a.Subaccount)
}

func (a Account) String() string { return a.Key() }

// ParseAccountKey is the inverse of Key.
func ParseAccountKey(s string) (Account, error) {
	owner, sub, ok := strings.Cut(s, ".")
	if !ok {
		return Account{}, fmt.Errorf("account key %q: missing separator", s)
	}
	p, err := identity.ParsePrincipal(owner)
	if err != nil {
		return Account{}, err
	}
	acc := Account{Owner: p}
	if sub != "" {
		if err := acc.Subaccount.UnmarshalText([]byte(sub)); err != nil {
			return Account{}, err
		}
	}
	if err := acc.validate(); err != nil {
		return Account{}, err
	}
	return acc, nil
}

func (a Account) validate() error {
	if len(a.Owner) == 0 {
		return fmt.Errorf("%w: account owner is empty", ErrInvalidAction)
	}
	if len(a.Owner) > identity.MaxPrincipalLen {
		return fmt.Errorf("%w: account owner longer than %d bytes", ErrInvalidAction, identity.MaxPrincipalLen)
	}
	if n := len(a.Subaccount); n != 0 && n != SubaccountLen {
		return fmt.Errorf("%w: subaccount must be %d bytes, got %d", ErrInvalidAction, SubaccountLen, n)
	}
	return nil
}

// value encodes the account as Array[Blob owner, Blob subaccount?].
func (a Account) value() icrc3.Value {
	if a.Subaccount.isDefault() {
		return icrc3.Array(icrc3.Blob(a.Owner))
	}
	return icrc3.Array(icrc3.Blob(a.Owner), icrc3.Blob(a.Subaccount))
}
