package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jmerrifield20/chainledger/internal/icrc3"
)

// Error kinds reported in dispatch results.
const (
	ErrKindInsufficientFunds = "InsufficientFunds"
	ErrKindInvalidAction     = "InvalidAction"
	ErrKindOverflow          = "Overflow"
	ErrKindEncoding          = "Encoding"
	ErrKindInternal          = "Internal"
)

// ErrorKind classifies err for clients and metrics.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return ErrKindInsufficientFunds
	case errors.Is(err, ErrInvalidAction):
		return ErrKindInvalidAction
	case errors.Is(err, ErrOverflow):
		return ErrKindOverflow
	case errors.Is(err, icrc3.ErrEncoding):
		return ErrKindEncoding
	}
	return ErrKindInternal
}

// Result is the outcome of one dispatched action: the new block's id or an error.
type Result struct {
	ID  uint64
	Err error
}

// ResultError is the decoded error of a Result received over the wire.
type ResultError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *ResultError) Error() string { return e.Kind + ": " + e.Message }

// Is matches the sentinel named by Kind, so decoded errors behave like local ones.
func (e *ResultError) Is(target error) bool {
	switch e.Kind {
	case ErrKindInsufficientFunds:
		return target == ErrInsufficientFunds
	case ErrKindInvalidAction:
		return target == ErrInvalidAction
	case ErrKindOverflow:
		return target == ErrOverflow
	case ErrKindEncoding:
		return target == icrc3.ErrEncoding
	}
	return false
}

// MarshalJSON renders {"Ok":"<id>"} or {"Err":{"kind":...,"message":...}}.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		return json.Marshal(map[string]ResultError{
			"Err": {Kind: ErrorKind(r.Err), Message: r.Err.Error()},
		})
	}
	return json.Marshal(map[string]string{"Ok": strconv.FormatUint(r.ID, 10)})
}

func (r *Result) UnmarshalJSON(data []byte) error {
	var in struct {
		Ok  *string      `json:"Ok"`
		Err *ResultError `json:"Err"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	switch {
	case in.Err != nil:
		*r = Result{Err: in.Err}
	case in.Ok != nil:
		id, err := strconv.ParseUint(*in.Ok, 10, 64)
		if err != nil {
			return fmt.Errorf("decode result id %q: %w", *in.Ok, err)
		}
		*r = Result{ID: id}
	default:
		return fmt.Errorf("decode result: neither Ok nor Err")
	}
	return nil
}
