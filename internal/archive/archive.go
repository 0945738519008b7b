// Package archive moves the oldest ledger blocks into shard units.
//
// A Registry maps contiguous block ranges to shards, a Provisioner creates and
// funds shards, and a Manager transfers one window at a time. Committing a
// transfer (registry append + live tail drop) is the ledger's job.
package archive

import (
	"context"
	"errors"
	"time"

	"github.com/jmerrifield20/chainledger/internal/icrc3"
	"github.com/jmerrifield20/chainledger/internal/identity"
)

var (
	// ErrShardUnavailable is returned when a shard is stopped or unreachable.
	ErrShardUnavailable = errors.New("archive: shard unavailable")
	// ErrNotFound is returned for an unknown shard reference.
	ErrNotFound = errors.New("archive: shard not found")
	// ErrNonContiguous is returned when appended blocks leave a gap.
	ErrNonContiguous = errors.New("archive: blocks are not contiguous with the shard")
	// ErrCapacity is returned when an append would exceed the shard's capacity.
	ErrCapacity = errors.New("archive: shard capacity exceeded")
)

// ShardRef identifies a shard unit.
type ShardRef string

// Status is the run state of a shard.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
)

// Info is the management view of a shard.
type Info struct {
	Ref          ShardRef             `json:"ref"`
	Start        uint64               `json:"start"`
	Length       uint64               `json:"length"`
	Capacity     uint64               `json:"capacity"`
	Status       Status               `json:"status"`
	Budget       uint64               `json:"budget"`
	Controllers  []identity.Principal `json:"controllers"`
	LastModified time.Time            `json:"last_modified"`
}

// End is one past the highest stored block id.
func (i Info) End() uint64 { return i.Start + i.Length }

// ShardSpec describes a shard to provision.
type ShardSpec struct {
	Start       uint64               `json:"start"`
	Capacity    uint64               `json:"capacity"`
	Budget      uint64               `json:"budget"`
	Controllers []identity.Principal `json:"controllers"`
}

// Shard is a unit holding a contiguous run of archived blocks.
type Shard interface {
	Ref() ShardRef
	// Append stores blocks. Ids already stored are skipped; a gap is rejected.
	Append(ctx context.Context, blocks []icrc3.Block) error
	GetBlocks(ctx context.Context, start, length uint64) ([]icrc3.Block, error)
	Info(ctx context.Context) (Info, error)
	Configure(ctx context.Context, controllers []identity.Principal) error
}

// Provisioner creates, opens and funds shards.
type Provisioner interface {
	Provision(ctx context.Context, spec ShardSpec) (Shard, error)
	Open(ctx context.Context, ref ShardRef) (Shard, error)
	TopUp(ctx context.Context, ref ShardRef, amount uint64) error
	// Callback returns the URL clients fetch the shard's blocks from, or ""
	// when the shard is only reachable in-process.
	Callback(ref ShardRef) string
}

// Operator stops and starts shards. Only external tooling uses it.
type Operator interface {
	Stop(ctx context.Context, ref ShardRef) error
	Start(ctx context.Context, ref ShardRef) error
}

// Host is a Provisioner that owns its shards locally and can list them.
type Host interface {
	Provisioner
	Operator
	List(ctx context.Context) ([]Info, error)
}

// CallbackPath is the archive node route serving a shard's blocks.
func CallbackPath(ref ShardRef) string {
	return "/api/v1/shards/" + string(ref) + "/get_blocks"
}
