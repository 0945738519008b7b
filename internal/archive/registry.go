package archive

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidRecord is returned when a record would break the registry's coverage.
var ErrInvalidRecord = errors.New("archive: record does not extend the registry")

// Record maps the block ids [Start, Start+Length) to a shard.
type Record struct {
	Shard  ShardRef `json:"shard"`
	Start  uint64   `json:"start"`
	Length uint64   `json:"length"`
}

// End is one past the last id covered by the record.
func (r Record) End() uint64 { return r.Start + r.Length }

// ShardSpan is one entry of the archives listing. End is inclusive.
type ShardSpan struct {
	Shard ShardRef `json:"shard"`
	Start uint64   `json:"start"`
	End   uint64   `json:"end"`
}

// Registry is the ordered, append-only list of archived ranges. Records are
// contiguous from id 0 and never overlap. Not safe for concurrent use.
type Registry struct {
	records []Record
}

// NewRegistry validates records and builds a registry from them.
func NewRegistry(records []Record) (*Registry, error) {
	r := &Registry{records: make([]Record, 0, len(records))}
	for i, rec := range records {
		if err := r.Append(rec); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return r, nil
}

// Append adds rec, which must start where the registry ends.
func (r *Registry) Append(rec Record) error {
	if rec.Length == 0 {
		return fmt.Errorf("%w: empty range", ErrInvalidRecord)
	}
	if rec.Shard == "" {
		return fmt.Errorf("%w: missing shard", ErrInvalidRecord)
	}
	if rec.Start != r.End() {
		return fmt.Errorf("%w: starts at %d, registry ends at %d", ErrInvalidRecord, rec.Start, r.End())
	}
	if rec.End() < rec.Start {
		return fmt.Errorf("%w: length overflows", ErrInvalidRecord)
	}
	r.records = append(r.records, rec)
	return nil
}

// End is the number of archived blocks, which is also the id of the first live block.
func (r *Registry) End() uint64 {
	if len(r.records) == 0 {
		return 0
	}
	return r.records[len(r.records)-1].End()
}

func (r *Registry) Len() int { return len(r.records) }

// Last returns the most recent record.
func (r *Registry) Last() (Record, bool) {
	if len(r.records) == 0 {
		return Record{}, false
	}
	return r.records[len(r.records)-1], true
}

// Records returns a copy of all records.
func (r *Registry) Records() []Record {
	return append([]Record(nil), r.records...)
}

// Find returns the record covering id.
func (r *Registry) Find(id uint64) (Record, bool) {
	i := sort.Search(len(r.records), func(i int) bool { return r.records[i].End() > id })
	if i == len(r.records) || r.records[i].Start > id {
		return Record{}, false
	}
	return r.records[i], true
}

// Overlapping returns the records intersecting [start, end) in registry order.
func (r *Registry) Overlapping(start, end uint64) []Record {
	if start >= end {
		return nil
	}
	i := sort.Search(len(r.records), func(i int) bool { return r.records[i].End() > start })
	var out []Record
	for ; i < len(r.records) && r.records[i].Start < end; i++ {
		out = append(out, r.records[i])
	}
	return out
}

// ShardRefs returns every distinct shard in registry order.
func (r *Registry) ShardRefs() []ShardRef {
	var out []ShardRef
	seen := make(map[ShardRef]struct{})
	for _, rec := range r.records {
		if _, ok := seen[rec.Shard]; ok {
			continue
		}
		seen[rec.Shard] = struct{}{}
		out = append(out, rec.Shard)
	}
	return out
}

// Shards aggregates consecutive records per shard. With from set, only the
// shards listed after from are returned; an unknown from yields nothing.
func (r *Registry) Shards(from *ShardRef) []ShardSpan {
	spans := make([]ShardSpan, 0)
	for _, rec := range r.records {
		if n := len(spans); n > 0 && spans[n-1].Shard == rec.Shard {
			spans[n-1].End = rec.End() - 1
			continue
		}
		spans = append(spans, ShardSpan{Shard: rec.Shard, Start: rec.Start, End: rec.End() - 1})
	}
	if from == nil {
		return spans
	}
	for i, s := range spans {
		if s.Shard == *from {
			return spans[i+1:]
		}
	}
	return []ShardSpan{}
}
