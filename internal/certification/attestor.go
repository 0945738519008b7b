package certification

import (
	"crypto/rsa"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TipClaims are the JWT claims binding a certified root hash to a ledger.
type TipClaims struct {
	jwt.RegisteredClaims
	CertifiedData string `json:"certified_data"`
}

// Attestor signs certified root hashes with RS256.
type Attestor struct {
	key    *rsa.PrivateKey
	pub    *rsa.PublicKey
	issuer string
	now    func() time.Time
}

// NewAttestor creates an Attestor. issuer is the ledger id, used as both the
// "iss" and "sub" claim.
func NewAttestor(key *rsa.PrivateKey, issuer string) *Attestor {
	return &Attestor{
		key:    key,
		pub:    &key.PublicKey,
		issuer: issuer,
		now:    time.Now,
	}
}

// Attest returns a signed token over root.
func (a *Attestor) Attest(root [32]byte) (string, error) {
	claims := TipClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   a.issuer,
			Subject:  a.issuer,
			IssuedAt: jwt.NewNumericDate(a.now().UTC()),
			ID:       uuid.New().String(),
		},
		CertifiedData: hex.EncodeToString(root[:]),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("sign tip certificate: %w", err)
	}
	return signed, nil
}

// PublicKey returns the key that verifies this attestor's tokens.
func (a *Attestor) PublicKey() *rsa.PublicKey { return a.pub }

// Issuer returns the ledger id the attestor signs for.
func (a *Attestor) Issuer() string { return a.issuer }

// ParseAttestation verifies tokenStr against pub and issuer and returns its claims.
func ParseAttestation(tokenStr string, pub *rsa.PublicKey, issuer string) (*TipClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&TipClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return pub, nil
		},
		jwt.WithIssuer(issuer),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify tip certificate: %w", err)
	}
	claims, ok := token.Claims.(*TipClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid tip certificate claims")
	}
	return claims, nil
}
