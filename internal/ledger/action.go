package ledger

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/holiman/uint256"

	"github.com/jmerrifield20/chainledger/internal/icrc3"
	"github.com/jmerrifield20/chainledger/internal/identity"
)

// MaxMemoLen bounds the memo carried by an action.
const MaxMemoLen = 32

// Kind is the operation an action performs.
type Kind string

const (
	KindMint     Kind = "mint"
	KindBurn     Kind = "burn"
	KindTransfer Kind = "transfer"
	KindSwap     Kind = "swap"
)

// btype returns the block type tag recorded for k.
func (k Kind) btype() (string, bool) {
	switch k {
	case KindMint:
		return "1mint", true
	case KindBurn:
		return "1burn", true
	case KindTransfer:
		return "1xfer", true
	case KindSwap:
		return "1swap", true
	}
	return "", false
}

// Payload is the balance-affecting part of an action.
type Payload struct {
	Kind   Kind
	Amount *uint256.Int
	From   *Account
	To     *Account
}

// Action is one client request. Every accepted action becomes one block.
type Action struct {
	Ts            uint64
	CreatedAtTime *uint64
	Memo          []byte
	Caller        identity.Principal
	// Fee is recorded in the block but not charged.
	Fee     *uint256.Int
	Payload Payload
}

// Mint, Burn, Transfer and Swap build payloads.

func Mint(to Account, amt uint64) Payload {
	return Payload{Kind: KindMint, Amount: uint256.NewInt(amt), To: &to}
}

func Burn(from Account, amt uint64) Payload {
	return Payload{Kind: KindBurn, Amount: uint256.NewInt(amt), From: &from}
}

func Transfer(from, to Account, amt uint64) Payload {
	return Payload{Kind: KindTransfer, Amount: uint256.NewInt(amt), From: &from, To: &to}
}

func Swap(from, to *Account, amt uint64) Payload {
	return Payload{Kind: KindSwap, Amount: uint256.NewInt(amt), From: from, To: to}
}

// Validate checks the action's shape. It does not look at balances.
func (a Action) Validate() error {
	if len(a.Memo) > MaxMemoLen {
		return fmt.Errorf("%w: memo longer than %d bytes", ErrInvalidAction, MaxMemoLen)
	}
	if len(a.Caller) > identity.MaxPrincipalLen {
		return fmt.Errorf("%w: caller longer than %d bytes", ErrInvalidAction, identity.MaxPrincipalLen)
	}
	p := a.Payload
	if _, ok := p.Kind.btype(); !ok {
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidAction, p.Kind)
	}
	if p.Amount == nil {
		return fmt.Errorf("%w: missing amount", ErrInvalidAction)
	}

	needFrom := p.Kind == KindBurn || p.Kind == KindTransfer
	needTo := p.Kind == KindMint || p.Kind == KindTransfer
	if needFrom && p.From == nil {
		return fmt.Errorf("%w: %s requires a from account", ErrInvalidAction, p.Kind)
	}
	if needTo && p.To == nil {
		return fmt.Errorf("%w: %s requires a to account", ErrInvalidAction, p.Kind)
	}
	if p.Kind == KindMint && p.From != nil {
		return fmt.Errorf("%w: mint takes no from account", ErrInvalidAction)
	}
	if p.Kind == KindBurn && p.To != nil {
		return fmt.Errorf("%w: burn takes no to account", ErrInvalidAction)
	}
	for _, acc := range []*Account{p.From, p.To} {
		if acc == nil {
			continue
		}
		if err := acc.validate(); err != nil {
			return err
		}
	}
	return nil
}

// TxValue encodes the action as the tx map of its block.
func (a Action) TxValue() icrc3.Value {
	fields := []icrc3.Field{{Key: "ts", Value: icrc3.Nat(a.Ts)}}
	if a.CreatedAtTime != nil {
		fields = append(fields, icrc3.Field{Key: "created_at_time", Value: icrc3.Nat(*a.CreatedAtTime)})
	}
	if a.Memo != nil {
		fields = append(fields, icrc3.Field{Key: "memo", Value: icrc3.Blob(a.Memo)})
	}
	fields = append(fields, icrc3.Field{Key: "caller", Value: icrc3.Blob(a.Caller)})
	if a.Fee != nil {
		fields = append(fields, icrc3.Field{Key: "fee", Value: icrc3.NatU256(a.Fee)})
	}
	btype, _ := a.Payload.Kind.btype()
	fields = append(fields,
		icrc3.Field{Key: "btype", Value: icrc3.Text(btype)},
		icrc3.Field{Key: "payload", Value: a.Payload.value()},
	)
	return icrc3.Map(fields...)
}

func (p Payload) value() icrc3.Value {
	fields := []icrc3.Field{{Key: "amt", Value: icrc3.NatU256(p.Amount)}}
	if p.From != nil {
		fields = append(fields, icrc3.Field{Key: "from", Value: p.From.value()})
	}
	if p.To != nil {
		fields = append(fields, icrc3.Field{Key: "to", Value: p.To.value()})
	}
	return icrc3.Map(fields...)
}

// actionJSON is the wire form of Action. Numbers travel as decimal strings.
type actionJSON struct {
	Ts            string               `json:"ts"`
	CreatedAtTime *string              `json:"created_at_time,omitempty"`
	Memo          *string              `json:"memo,omitempty"`
	Caller        identity.Principal   `json:"caller"`
	Fee           *string              `json:"fee,omitempty"`
	Payload       map[Kind]payloadJSON `json:"payload"`
}

type payloadJSON struct {
	Amount string   `json:"amt"`
	From   *Account `json:"from,omitempty"`
	To     *Account `json:"to,omitempty"`
}

func (a Action) MarshalJSON() ([]byte, error) {
	out := actionJSON{
		Ts:     strconv.FormatUint(a.Ts, 10),
		Caller: a.Caller,
	}
	if a.CreatedAtTime != nil {
		s := strconv.FormatUint(*a.CreatedAtTime, 10)
		out.CreatedAtTime = &s
	}
	if a.Memo != nil {
		s := hex.EncodeToString(a.Memo)
		out.Memo = &s
	}
	if a.Fee != nil {
		s := a.Fee.Dec()
		out.Fee = &s
	}
	amt := "0"
	if a.Payload.Amount != nil {
		amt = a.Payload.Amount.Dec()
	}
	out.Payload = map[Kind]payloadJSON{
		a.Payload.Kind: {Amount: amt, From: a.Payload.From, To: a.Payload.To},
	}
	return json.Marshal(out)
}

func (a *Action) UnmarshalJSON(data []byte) error {
	var in actionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("decode action: %w", err)
	}
	ts, err := strconv.ParseUint(in.Ts, 10, 64)
	if err != nil {
		return fmt.Errorf("decode action ts %q: %w", in.Ts, err)
	}
	out := Action{Ts: ts, Caller: in.Caller}
	if in.CreatedAtTime != nil {
		v, err := strconv.ParseUint(*in.CreatedAtTime, 10, 64)
		if err != nil {
			return fmt.Errorf("decode created_at_time %q: %w", *in.CreatedAtTime, err)
		}
		out.CreatedAtTime = &v
	}
	if in.Memo != nil {
		m, err := hex.DecodeString(*in.Memo)
		if err != nil {
			return fmt.Errorf("decode memo: %w", err)
		}
		out.Memo = m
	}
	if in.Fee != nil {
		f, err := uint256.FromDecimal(*in.Fee)
		if err != nil {
			return fmt.Errorf("decode fee %q: %w", *in.Fee, err)
		}
		out.Fee = f
	}
	if len(in.Payload) != 1 {
		return fmt.Errorf("decode action: payload must name exactly one operation")
	}
	for kind, p := range in.Payload {
		amt, err := uint256.FromDecimal(p.Amount)
		if err != nil {
			return fmt.Errorf("decode amt %q: %w", p.Amount, err)
		}
		out.Payload = Payload{Kind: kind, Amount: amt, From: p.From, To: p.To}
	}
	*a = out
	return nil
}
