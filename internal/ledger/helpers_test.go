package ledger_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jmerrifield20/chainledger/internal/archive"
	"github.com/jmerrifield20/chainledger/internal/blockstore"
	"github.com/jmerrifield20/chainledger/internal/certification"
	"github.com/jmerrifield20/chainledger/internal/icrc3"
	"github.com/jmerrifield20/chainledger/internal/identity"
	"github.com/jmerrifield20/chainledger/internal/ledger"
)

var (
	ledgerPrincipal = identity.Principal{0x4c, 0x45, 0x44}
	caller          = identity.Principal{0xca, 0x11}
)

type fixture struct {
	ledger *ledger.Ledger
	prov   *archive.MemoryProvisioner
	mgr    *archive.Manager
	key    *rsa.PrivateKey
	cert   *certification.Certifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	prov := archive.NewMemoryProvisioner()
	mgr := archive.NewManager(prov, archive.Config{
		Controllers: []identity.Principal{{0xc0, 0x01}},
		Owner:       ledgerPrincipal,
	}, zap.NewNop())
	cert := certification.NewCertifier(certification.NewAttestor(key, "test-ledger"))
	l := ledger.New(ledger.Config{ID: "test-ledger"}, mgr, cert, zap.NewNop())
	return &fixture{ledger: l, prov: prov, mgr: mgr, key: key, cert: cert}
}

func swapAction() ledger.Action {
	created := uint64(1721045569580000)
	return ledger.Action{
		Ts:            12340,
		CreatedAtTime: &created,
		Memo:          []byte{0, 1, 2, 3, 4},
		Caller:        caller,
		Payload:       ledger.Swap(nil, nil, 123456),
	}
}

func swaps(n int) []ledger.Action {
	out := make([]ledger.Action, n)
	for i := range out {
		out[i] = swapAction()
	}
	return out
}

func acct(b byte) ledger.Account {
	return ledger.Account{Owner: identity.Principal{b}}
}

func act(p ledger.Payload) ledger.Action {
	return ledger.Action{Ts: 1, Caller: caller, Payload: p}
}

func requireOK(t *testing.T, results []ledger.Result) {
	t.Helper()
	for i, r := range results {
		require.NoError(t, r.Err, "result %d", i)
	}
}

// allBlocks fetches [start, start+length) following every archive descriptor,
// in id order.
func allBlocks(t *testing.T, l *ledger.Ledger, start, length uint64) []icrc3.Block {
	t.Helper()
	res := l.GetBlocks([]ledger.Range{{Start: start, Length: length}})
	var out []icrc3.Block
	for _, ar := range res.ArchivedBlocks {
		blocks, err := l.FetchArchived(context.Background(), ar)
		require.NoError(t, err)
		out = append(out, blocks...)
	}
	return append(out, res.Blocks...)
}

// requireCoverage checks that registry ranges plus the live tail cover
// exactly [0, log_length).
func requireCoverage(t *testing.T, l *ledger.Ledger) {
	t.Helper()
	snap := l.Snapshot()
	next := uint64(0)
	for _, rec := range snap.Registry {
		require.Equal(t, next, rec.Start, "registry gap or overlap")
		next = rec.End()
	}
	require.Equal(t, next, snap.LiveStart, "live tail does not follow the registry")
	require.Equal(t, snap.LogLength, snap.LiveStart+uint64(len(snap.LiveBlocks)))
}

func requireChain(t *testing.T, blocks []icrc3.Block) [32]byte {
	t.Helper()
	tip, err := blockstore.Verify(blocks, nil)
	require.NoError(t, err)
	return tip
}

func zapNop() *zap.Logger { return zap.NewNop() }
