package ledger_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmerrifield20/chainledger/internal/archive"
	"github.com/jmerrifield20/chainledger/internal/certification"
	"github.com/jmerrifield20/chainledger/internal/icrc3"
	"github.com/jmerrifield20/chainledger/internal/ledger"
)

func TestDispatch_emptyLedger(t *testing.T) {
	f := newFixture(t)
	res := f.ledger.GetBlocks([]ledger.Range{{Start: 0, Length: 100}})
	assert.Equal(t, uint64(0), res.LogLength)
	assert.Empty(t, res.Blocks)
	assert.Empty(t, res.ArchivedBlocks)

	cert, err := f.ledger.TipCertificate()
	require.NoError(t, err)
	assert.Nil(t, cert)
}

func TestDispatch_resultsInOrderWithIsolatedFailures(t *testing.T) {
	f := newFixture(t)
	a, b := acct(0xa), acct(0xb)

	tooLong := act(ledger.Mint(a, 1))
	tooLong.Memo = make([]byte, ledger.MaxMemoLen+1)

	results := f.ledger.Dispatch(context.Background(), []ledger.Action{
		act(ledger.Mint(a, 100)),
		act(ledger.Burn(b, 1)),
		tooLong,
		act(ledger.Transfer(a, b, 40)),
		act(ledger.Payload{Kind: ledger.KindTransfer, Amount: uint256.NewInt(1), From: &a}),
	})
	require.Len(t, results, 5)

	assert.NoError(t, results[0].Err)
	assert.Equal(t, uint64(0), results[0].ID)
	assert.ErrorIs(t, results[1].Err, ledger.ErrInsufficientFunds)
	assert.ErrorIs(t, results[2].Err, ledger.ErrInvalidAction)
	assert.NoError(t, results[3].Err)
	assert.Equal(t, uint64(1), results[3].ID, "failed actions must not consume ids")
	assert.ErrorIs(t, results[4].Err, ledger.ErrInvalidAction)

	assert.Equal(t, uint64(2), f.ledger.Stats().LogLength)
	assert.Equal(t, "60", f.ledger.BalanceOf(a).Dec())
	assert.Equal(t, "40", f.ledger.BalanceOf(b).Dec())
}

func TestDispatch_idsMatchLogLength(t *testing.T) {
	f := newFixture(t)
	for batch := 0; batch < 4; batch++ {
		before := f.ledger.Stats().LogLength
		results := f.ledger.Dispatch(context.Background(), swaps(50))
		for i, r := range results {
			require.NoError(t, r.Err)
			assert.Equal(t, before+uint64(i), r.ID)
		}
	}
	assert.Equal(t, uint64(200), f.ledger.Stats().LogLength)
}

func TestBalanceScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := acct(0xa), acct(0xb)

	requireOK(t, f.ledger.Dispatch(ctx, []ledger.Action{act(ledger.Mint(a, 100)), act(ledger.Burn(a, 50))}))
	assert.Equal(t, "50", f.ledger.BalanceOf(a).Dec())

	requireOK(t, f.ledger.Dispatch(ctx, []ledger.Action{
		act(ledger.Mint(b, 1000)),
		act(ledger.Burn(b, 500)),
		act(ledger.Transfer(b, a, 100)),
	}))
	assert.Equal(t, "400", f.ledger.BalanceOf(b).Dec())
	assert.Equal(t, "150", f.ledger.BalanceOf(a).Dec())
	assert.Equal(t, "0", f.ledger.BalanceOf(acct(0xff)).Dec(), "unknown account")
}

func TestSubaccountsAreDistinctButZeroIsDefault(t *testing.T) {
	f := newFixture(t)
	sub := make(ledger.Subaccount, ledger.SubaccountLen)
	sub[31] = 1
	withSub := ledger.Account{Owner: acct(0xa).Owner, Subaccount: sub}
	zero := ledger.Account{Owner: acct(0xa).Owner, Subaccount: make(ledger.Subaccount, ledger.SubaccountLen)}

	requireOK(t, f.ledger.Dispatch(context.Background(), []ledger.Action{
		act(ledger.Mint(acct(0xa), 7)),
		act(ledger.Mint(withSub, 3)),
	}))
	assert.Equal(t, "7", f.ledger.BalanceOf(zero).Dec())
	assert.Equal(t, "3", f.ledger.BalanceOf(withSub).Dec())
}

func TestMint_overflow(t *testing.T) {
	f := newFixture(t)
	max := new(uint256.Int).SetAllOne()
	a := acct(0xa)
	results := f.ledger.Dispatch(context.Background(), []ledger.Action{
		act(ledger.Payload{Kind: ledger.KindMint, Amount: max, To: &a}),
		act(ledger.Mint(a, 1)),
	})
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, ledger.ErrOverflow)
	assert.True(t, f.ledger.BalanceOf(a).Eq(max))
}

func TestArchival_300ActionsInOneCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	requireOK(t, f.ledger.Dispatch(ctx, swaps(1)))
	results := f.ledger.Dispatch(ctx, swaps(300))
	requireOK(t, results)
	assert.Equal(t, uint64(1), results[0].ID)

	res := f.ledger.GetBlocks([]ledger.Range{{Start: 0, Length: 500}})
	assert.Equal(t, uint64(301), res.LogLength)
	require.Len(t, res.Blocks, 61)
	assert.Equal(t, uint64(240), res.Blocks[0].ID)
	assert.Equal(t, uint64(300), res.Blocks[60].ID)

	require.Len(t, res.ArchivedBlocks, 2)
	assert.Equal(t, []ledger.Range{{Start: 0, Length: 120}}, res.ArchivedBlocks[0].Args)
	assert.Equal(t, []ledger.Range{{Start: 120, Length: 120}}, res.ArchivedBlocks[1].Args)

	archived, err := f.ledger.FetchArchived(ctx, res.ArchivedBlocks[1])
	require.NoError(t, err)
	require.Len(t, archived, 120)
	assert.Equal(t, uint64(120), archived[0].ID)

	requireCoverage(t, f.ledger)
}

func TestArchival_300ActionsInSeparateCalls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 300; i++ {
		requireOK(t, f.ledger.Dispatch(ctx, swaps(1)))
		requireCoverage(t, f.ledger)
	}
	st := f.ledger.Stats()
	assert.Equal(t, uint64(300), st.LogLength)
	assert.LessOrEqual(t, st.LiveBlocks, archive.DefaultThreshold)
	for _, rec := range f.ledger.Snapshot().Registry {
		assert.Equal(t, uint64(archive.DefaultWindow), rec.Length)
	}
}

func TestQuery_trimsToRecordsAndLive(t *testing.T) {
	f := newFixture(t)
	requireOK(t, f.ledger.Dispatch(context.Background(), swaps(301)))

	// Fully inside one archived record.
	res := f.ledger.GetBlocks([]ledger.Range{{Start: 130, Length: 5}})
	require.Len(t, res.ArchivedBlocks, 1)
	assert.Equal(t, []ledger.Range{{Start: 130, Length: 5}}, res.ArchivedBlocks[0].Args)
	assert.Empty(t, res.Blocks)

	// Straddling two records and the live tail.
	res = f.ledger.GetBlocks([]ledger.Range{{Start: 100, Length: 150}})
	require.Len(t, res.ArchivedBlocks, 2)
	assert.Equal(t, []ledger.Range{{Start: 100, Length: 20}}, res.ArchivedBlocks[0].Args)
	assert.Equal(t, []ledger.Range{{Start: 120, Length: 120}}, res.ArchivedBlocks[1].Args)
	require.Len(t, res.Blocks, 10)
	assert.Equal(t, uint64(240), res.Blocks[0].ID)

	// Over-long and out-of-range requests are clamped, not rejected.
	res = f.ledger.GetBlocks([]ledger.Range{{Start: 290, Length: ^uint64(0)}, {Start: 1000, Length: 5}, {Start: 5, Length: 0}})
	assert.Len(t, res.Blocks, 11)
	assert.Empty(t, res.ArchivedBlocks)

	spans := f.ledger.GetArchives(nil)
	require.Len(t, spans, 1, "both windows share one shard")
	assert.Equal(t, archive.ShardSpan{Shard: spans[0].Shard, Start: 0, End: 239}, spans[0])
}

func TestQuery_maxBlocksPerCall(t *testing.T) {
	f := newFixture(t)
	capped := ledger.New(ledger.Config{ID: "capped", MaxQueryBlocks: 7}, f.mgr, nil, zapNop())
	requireOK(t, capped.Dispatch(context.Background(), swaps(20)))
	res := capped.GetBlocks([]ledger.Range{{Start: 0, Length: 5}, {Start: 10, Length: 5}})
	require.Len(t, res.Blocks, 7)
	assert.Equal(t, uint64(10), res.Blocks[5].ID)
}

func TestHashChain_acrossArchiveBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	requireOK(t, f.ledger.Dispatch(ctx, swaps(250)))
	requireOK(t, f.ledger.Dispatch(ctx, []ledger.Action{act(ledger.Mint(acct(1), 5))}))

	blocks := allBlocks(t, f.ledger, 0, 1000)
	require.Len(t, blocks, 251)
	tip := requireChain(t, blocks)

	for i := 1; i < len(blocks); i++ {
		want, err := icrc3.Hash(blocks[i-1].Block)
		require.NoError(t, err)
		phash, ok := blocks[i].PHash()
		require.True(t, ok)
		assert.Equal(t, want[:], phash)
	}

	cert, err := f.ledger.TipCertificate()
	require.NoError(t, err)
	got, err := certification.Verify(cert, &f.key.PublicKey, "test-ledger")
	require.NoError(t, err)
	assert.Equal(t, uint64(250), got.Index)
	assert.Equal(t, tip[:], got.Hash)
	require.NoError(t, f.ledger.VerifyLive())
}

func TestBlockLayout(t *testing.T) {
	f := newFixture(t)
	a, b := acct(0xa), acct(0xb)
	mint := act(ledger.Mint(a, 10))
	mint.Fee = uint256.NewInt(1000)
	requireOK(t, f.ledger.Dispatch(context.Background(), []ledger.Action{mint, act(ledger.Transfer(a, b, 3))}))

	res := f.ledger.GetBlocks([]ledger.Range{{Start: 0, Length: 2}})
	require.Len(t, res.Blocks, 2)

	_, ok := res.Blocks[0].PHash()
	assert.False(t, ok, "genesis has no phash")
	tx, ok := res.Blocks[0].Block.Get("tx")
	require.True(t, ok)
	btype, _ := tx.Get("btype")
	assert.Equal(t, "1mint", btype.Text)
	fee, _ := tx.Get("fee")
	assert.Equal(t, "1000", fee.Nat.Dec())

	tx, _ = res.Blocks[1].Block.Get("tx")
	btype, _ = tx.Get("btype")
	assert.Equal(t, "1xfer", btype.Text)
	payload, _ := tx.Get("payload")
	from, ok := payload.Get("from")
	require.True(t, ok)
	require.Len(t, from.Array, 1, "default subaccount is omitted")
	assert.Equal(t, []byte{0xa}, from.Array[0].Blob)
}

func TestStoppedShard_defersArchivalUntilRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	requireOK(t, f.ledger.Dispatch(ctx, swaps(301)))
	refs := f.ledger.ShardRefs()
	require.Len(t, refs, 1)
	require.NoError(t, f.prov.Stop(ctx, refs[0]))

	results := f.ledger.Dispatch(ctx, swaps(300))
	requireOK(t, results)
	assert.Equal(t, uint64(301), results[0].ID)

	res := f.ledger.GetBlocks([]ledger.Range{{Start: 0, Length: 1200}})
	assert.Equal(t, uint64(601), res.LogLength)
	assert.Len(t, res.ArchivedBlocks, 2, "registry must not grow while the shard is stopped")
	assert.Len(t, res.Blocks, 361)
	requireCoverage(t, f.ledger)

	err := f.ledger.ArchiveNow(ctx)
	assert.ErrorIs(t, err, archive.ErrShardUnavailable)
	requireCoverage(t, f.ledger)

	require.NoError(t, f.prov.Start(ctx, refs[0]))
	require.NoError(t, f.ledger.ArchiveNow(ctx))

	res = f.ledger.GetBlocks([]ledger.Range{{Start: 0, Length: 1200}})
	assert.Len(t, res.ArchivedBlocks, 5)
	assert.Len(t, res.Blocks, 1)
	for i, ar := range res.ArchivedBlocks {
		assert.Equal(t, []ledger.Range{{Start: uint64(i) * 120, Length: 120}}, ar.Args)
	}
	requireCoverage(t, f.ledger)
	requireChain(t, allBlocks(t, f.ledger, 0, 1200))
}

func TestScheduler_resumesArchivalWithoutDispatch(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	requireOK(t, f.ledger.Dispatch(ctx, swaps(1)))
	var ref archive.ShardRef
	{
		requireOK(t, f.ledger.Dispatch(ctx, swaps(240)))
		ref = f.ledger.ShardRefs()[0]
	}
	require.NoError(t, f.prov.Stop(ctx, ref))
	requireOK(t, f.ledger.Dispatch(ctx, swaps(200)))
	before := len(f.ledger.Snapshot().Registry)

	go archive.NewScheduler(f.ledger, 10*time.Millisecond, zapNop()).Start(ctx)
	require.NoError(t, f.prov.Start(ctx, ref))

	require.Eventually(t, func() bool {
		return len(f.ledger.Snapshot().Registry) > before && f.ledger.Stats().LiveBlocks <= archive.DefaultThreshold
	}, 5*time.Second, 10*time.Millisecond)
	requireCoverage(t, f.ledger)
}

func TestArchival_newShardWhenFull(t *testing.T) {
	prov := archive.NewMemoryProvisioner()
	mgr := archive.NewManager(prov, archive.Config{ShardCapacity: 240, Owner: ledgerPrincipal}, zapNop())
	l := ledger.New(ledger.Config{ID: "small-shards"}, mgr, nil, zapNop())

	requireOK(t, l.Dispatch(context.Background(), swaps(601)))
	spans := l.GetArchives(nil)
	require.Len(t, spans, 3)
	assert.Equal(t, uint64(0), spans[0].Start)
	assert.Equal(t, uint64(239), spans[0].End)
	assert.Equal(t, uint64(480), spans[2].Start)

	from := spans[0].Shard
	assert.Len(t, l.GetArchives(&from), 2)

	info, err := mgr.Shard(context.Background(), spans[1].Shard)
	require.NoError(t, err)
	i, err := info.Info(context.Background())
	require.NoError(t, err)
	require.Len(t, i.Controllers, 1)
	assert.True(t, i.Controllers[0].Equal(ledgerPrincipal))
}

func TestLastModified_strictlyIncreases(t *testing.T) {
	f := newFixture(t)
	fixed := time.Unix(1700000000, 0)
	f.ledger.SetClock(func() time.Time { return fixed })

	requireOK(t, f.ledger.Dispatch(context.Background(), swaps(1)))
	first := f.ledger.LastModified()
	requireOK(t, f.ledger.Dispatch(context.Background(), swaps(1)))
	assert.True(t, f.ledger.LastModified().After(first))
}

func TestResult_json(t *testing.T) {
	raw, err := json.Marshal([]ledger.Result{
		{ID: 7},
		{Err: errors.Join(ledger.ErrInsufficientFunds)},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"Ok":"7"},{"Err":{"kind":"InsufficientFunds","message":"ledger: insufficient funds"}}]`, string(raw))

	var back []ledger.Result
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, uint64(7), back[0].ID)
	assert.ErrorIs(t, back[1].Err, ledger.ErrInsufficientFunds)
}

func TestAction_json(t *testing.T) {
	in := `{"ts":"12340","created_at_time":"1721045569580000","memo":"0001020304","caller":"ca11","fee":"1000",
		"payload":{"transfer":{"amt":"5","from":{"owner":"0a"},"to":{"owner":"0b","subaccount":"` +
		"0000000000000000000000000000000000000000000000000000000000000001" + `"}}}}`
	var a ledger.Action
	require.NoError(t, json.Unmarshal([]byte(in), &a))
	require.NoError(t, a.Validate())
	assert.Equal(t, ledger.KindTransfer, a.Payload.Kind)
	assert.Equal(t, uint64(1721045569580000), *a.CreatedAtTime)
	assert.Len(t, a.Payload.To.Subaccount, 32)

	raw, err := json.Marshal(a)
	require.NoError(t, err)
	var back ledger.Action
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.True(t, a.TxValue().Equal(back.TxValue()))

	var bad ledger.Action
	assert.Error(t, json.Unmarshal([]byte(`{"ts":"1","caller":"","payload":{"mint":{"amt":"1"},"burn":{"amt":"1"}}}`), &bad))
}

func TestArchiveHook_reportsCommitsAndFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	type event struct {
		rec archive.Record
		err error
	}
	var events []event
	f.ledger.SetArchiveHook(func(rec archive.Record, err error) {
		events = append(events, event{rec, err})
	})

	requireOK(t, f.ledger.Dispatch(ctx, swaps(301)))
	require.Len(t, events, 2)
	for i, ev := range events {
		require.NoError(t, ev.err)
		assert.Equal(t, uint64(i)*120, ev.rec.Start)
		assert.Equal(t, uint64(120), ev.rec.Length)
		assert.NotEmpty(t, ev.rec.Shard)
	}

	require.NoError(t, f.prov.Stop(ctx, events[0].rec.Shard))
	requireOK(t, f.ledger.Dispatch(ctx, swaps(60)))
	require.Len(t, events, 3)
	assert.ErrorIs(t, events[2].err, archive.ErrShardUnavailable)
	assert.Equal(t, archive.Record{Start: 240, Length: 120}, events[2].rec)
}
