package archive

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// host keeps the shards of one process. The storage factory decides where
// their blocks live.
type host struct {
	mu           sync.Mutex
	units        map[ShardRef]*unit
	order        []ShardRef
	newStorage   func(ref ShardRef, info Info) (blockStorage, error)
	callbackBase string
	now          func() time.Time
}

func (h *host) init(newStorage func(ShardRef, Info) (blockStorage, error)) {
	h.units = make(map[ShardRef]*unit)
	h.newStorage = newStorage
	h.now = time.Now
}

// SetCallbackBase sets the public base URL of the archive node serving these
// shards. Without it shards are only reachable in-process.
func (h *host) SetCallbackBase(base string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callbackBase = strings.TrimRight(base, "/")
}

// SetClock overrides the time source used for last-modified stamps.
func (h *host) SetClock(now func() time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = now
}

// Provision creates a running shard starting at spec.Start.
func (h *host) Provision(_ context.Context, spec ShardSpec) (Shard, error) {
	if spec.Capacity == 0 {
		return nil, fmt.Errorf("provision shard: capacity must be positive")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	ref := ShardRef(uuid.New().String())
	info := Info{
		Ref:          ref,
		Start:        spec.Start,
		Capacity:     spec.Capacity,
		Status:       StatusRunning,
		Budget:       spec.Budget,
		Controllers:  spec.Controllers,
		LastModified: h.now().UTC(),
	}
	store, err := h.newStorage(ref, info)
	if err != nil {
		return nil, fmt.Errorf("provision shard: %w", err)
	}
	u := &unit{info: info, store: store, now: h.clock}
	if err := store.saveInfo(u.snapshot()); err != nil {
		return nil, fmt.Errorf("provision shard: %w", err)
	}
	h.adopt(u)
	return u, nil
}

// Open returns a previously provisioned shard.
func (h *host) Open(_ context.Context, ref ShardRef) (Shard, error) {
	return h.lookup(ref)
}

// TopUp adds amount to the shard's budget.
func (h *host) TopUp(_ context.Context, ref ShardRef, amount uint64) error {
	u, err := h.lookup(ref)
	if err != nil {
		return err
	}
	return u.topUp(amount)
}

// Stop makes the shard reject appends and reads until started again.
func (h *host) Stop(_ context.Context, ref ShardRef) error {
	u, err := h.lookup(ref)
	if err != nil {
		return err
	}
	return u.setStatus(StatusStopped)
}

func (h *host) Start(_ context.Context, ref ShardRef) error {
	u, err := h.lookup(ref)
	if err != nil {
		return err
	}
	return u.setStatus(StatusRunning)
}

// List returns every hosted shard in provisioning order.
func (h *host) List(ctx context.Context) ([]Info, error) {
	h.mu.Lock()
	units := make([]*unit, 0, len(h.order))
	for _, ref := range h.order {
		units = append(units, h.units[ref])
	}
	h.mu.Unlock()

	out := make([]Info, 0, len(units))
	for _, u := range units {
		info, err := u.Info(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

func (h *host) Callback(ref ShardRef) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.callbackBase == "" {
		return ""
	}
	return h.callbackBase + CallbackPath(ref)
}

func (h *host) lookup(ref ShardRef) (*unit, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	u, ok := h.units[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return u, nil
}

// adopt registers u. Callers hold h.mu.
func (h *host) adopt(u *unit) {
	h.units[u.info.Ref] = u
	h.order = append(h.order, u.info.Ref)
}

func (h *host) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now()
}

func (h *host) closeAll() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var first error
	for _, ref := range h.order {
		if err := h.units[ref].store.close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
