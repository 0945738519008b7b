package identity_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jmerrifield20/chainledger/internal/identity"
)

func TestKeyManager_Create(t *testing.T) {
	dir := t.TempDir()
	km := identity.NewKeyManager(dir)

	if err := km.Create(); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "signing.key")); err != nil {
		t.Errorf("expected signing.key to exist: %v", err)
	}
	if km.Key() == nil {
		t.Error("Key() returned nil after Create()")
	}
}

func TestKeyManager_LoadOrCreate_idempotent(t *testing.T) {
	dir := t.TempDir()
	km1 := identity.NewKeyManager(dir)
	if err := km1.LoadOrCreate(); err != nil {
		t.Fatal(err)
	}
	km2 := identity.NewKeyManager(dir)
	if err := km2.LoadOrCreate(); err != nil {
		t.Fatal(err)
	}
	if km1.Key().N.Cmp(km2.Key().N) != 0 {
		t.Error("LoadOrCreate created a new key on the second call")
	}
}

func TestPublicKeyPEM_roundTrip(t *testing.T) {
	km := identity.NewKeyManager(t.TempDir())
	if err := km.Create(); err != nil {
		t.Fatal(err)
	}
	s, err := km.PublicKeyPEM()
	if err != nil {
		t.Fatal(err)
	}
	pub, err := identity.ParsePublicKeyPEM(s)
	if err != nil {
		t.Fatalf("ParsePublicKeyPEM: %v", err)
	}
	if !pub.Equal(&km.Key().PublicKey) {
		t.Error("decoded public key differs")
	}
}

func TestParsePrincipal(t *testing.T) {
	p, err := identity.ParsePrincipal("0x0a0b")
	if err != nil {
		t.Fatal(err)
	}
	if p.String() != "0a0b" {
		t.Errorf("String() = %q, want 0a0b", p.String())
	}
	if _, err := identity.ParsePrincipal("zz"); err == nil {
		t.Error("expected error for non-hex principal")
	}
	long := make([]byte, identity.MaxPrincipalLen+1)
	if _, err := identity.ParsePrincipal(identity.Principal(long).String()); err == nil {
		t.Error("expected error for oversized principal")
	}
}

func TestUnion_dedupes(t *testing.T) {
	a := identity.Principal{1}
	b := identity.Principal{2}
	got := identity.Union([]identity.Principal{a, b}, []identity.Principal{b, a, {3}})
	if len(got) != 3 {
		t.Fatalf("Union len = %d, want 3", len(got))
	}
	if !got[0].Equal(a) || !got[1].Equal(b) || !got[2].Equal(identity.Principal{3}) {
		t.Errorf("Union order = %v", got)
	}
}
