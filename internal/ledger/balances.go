package ledger

import (
	"fmt"
	"sort"

	"github.com/holiman/uint256"

	"github.com/jmerrifield20/chainledger/internal/persistence"
)

// Balances maps accounts to amounts. Zero balances are not stored.
// Not safe for concurrent use.
type Balances struct {
	m map[string]*uint256.Int
}

// NewBalances returns an empty balance table.
func NewBalances() *Balances {
	return &Balances{m: make(map[string]*uint256.Int)}
}

// Of returns acc's balance, zero for an unknown account.
func (b *Balances) Of(acc Account) *uint256.Int {
	if v, ok := b.m[acc.Key()]; ok {
		return new(uint256.Int).Set(v)
	}
	return new(uint256.Int)
}

// Len returns the number of accounts holding a non-zero balance.
func (b *Balances) Len() int { return len(b.m) }

// Total returns the sum of all balances.
func (b *Balances) Total() *uint256.Int {
	sum := new(uint256.Int)
	for _, v := range b.m {
		sum.Add(sum, v)
	}
	return sum
}

// Apply performs p's balance change. Nothing changes when it fails.
func (b *Balances) Apply(p Payload) error {
	switch p.Kind {
	case KindMint:
		to, overflow := new(uint256.Int).AddOverflow(b.Of(*p.To), p.Amount)
		if overflow {
			return fmt.Errorf("%w: minting %s to %s", ErrOverflow, p.Amount.Dec(), p.To)
		}
		b.set(*p.To, to)

	case KindBurn:
		from := b.Of(*p.From)
		if from.Lt(p.Amount) {
			return fmt.Errorf("%w: %s holds %s, burn needs %s", ErrInsufficientFunds, p.From, from.Dec(), p.Amount.Dec())
		}
		b.set(*p.From, from.Sub(from, p.Amount))

	case KindTransfer:
		from := b.Of(*p.From)
		if from.Lt(p.Amount) {
			return fmt.Errorf("%w: %s holds %s, transfer needs %s", ErrInsufficientFunds, p.From, from.Dec(), p.Amount.Dec())
		}
		if p.From.Key() == p.To.Key() {
			return nil
		}
		to, overflow := new(uint256.Int).AddOverflow(b.Of(*p.To), p.Amount)
		if overflow {
			return fmt.Errorf("%w: crediting %s", ErrOverflow, p.To)
		}
		b.set(*p.From, from.Sub(from, p.Amount))
		b.set(*p.To, to)

	case KindSwap:
		// Recorded only.

	default:
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidAction, p.Kind)
	}
	return nil
}

func (b *Balances) set(acc Account, v *uint256.Int) {
	if v.IsZero() {
		delete(b.m, acc.Key())
		return
	}
	b.m[acc.Key()] = v
}

// Entries returns every balance sorted by account key.
func (b *Balances) Entries() []persistence.Balance {
	out := make([]persistence.Balance, 0, len(b.m))
	for k, v := range b.m {
		out = append(out, persistence.Balance{Account: k, Amount: v.Dec()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}

// BalancesFromEntries rebuilds a table written by Entries.
func BalancesFromEntries(entries []persistence.Balance) (*Balances, error) {
	b := NewBalances()
	for _, e := range entries {
		acc, err := ParseAccountKey(e.Account)
		if err != nil {
			return nil, err
		}
		v, err := uint256.FromDecimal(e.Amount)
		if err != nil {
			return nil, fmt.Errorf("balance of %s: %w", e.Account, err)
		}
		if _, dup := b.m[acc.Key()]; dup {
			return nil, fmt.Errorf("duplicate balance for %s", e.Account)
		}
		b.set(acc, v)
	}
	return b, nil
}
