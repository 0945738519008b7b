package identity

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// MaxPrincipalLen is the longest principal accepted.
const MaxPrincipalLen = 29

// Principal is an opaque identity. Its text form is lowercase hex.
type Principal []byte

// ParsePrincipal decodes the hex text form of a principal.
func ParsePrincipal(s string) (Principal, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse principal %q: %w", s, err)
	}
	if len(b) > MaxPrincipalLen {
		return nil, fmt.Errorf("parse principal %q: longer than %d bytes", s, MaxPrincipalLen)
	}
	return Principal(b), nil
}

// ParsePrincipals parses every entry of ss, failing on the first bad one.
func ParsePrincipals(ss []string) ([]Principal, error) {
	out := make([]Principal, 0, len(ss))
	for _, s := range ss {
		p, err := ParsePrincipal(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (p Principal) String() string { return hex.EncodeToString(p) }

// Equal reports whether p and o are the same principal.
func (p Principal) Equal(o Principal) bool { return bytes.Equal(p, o) }

func (p Principal) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(p)), nil
}

func (p *Principal) UnmarshalText(text []byte) error {
	v, err := ParsePrincipal(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Union returns the principals of sets in first-seen order without duplicates.
func Union(sets ...[]Principal) []Principal {
	seen := make(map[string]struct{})
	var out []Principal
	for _, set := range sets {
		for _, p := range set {
			k := string(p)
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, append(Principal(nil), p...))
		}
	}
	return out
}
