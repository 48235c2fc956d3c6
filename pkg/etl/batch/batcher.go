// Package batch groups normalized records into bounded write batches keyed
// for even distribution across storage partitions.
package batch

import (
	"sort"

	"github.com/tailfin/flightetl/pkg/etl/core/config"
	"github.com/tailfin/flightetl/pkg/etl/core/model"
)

// pending is the accumulation state of one partition bucket.
type pending struct {
	records []model.NormalizedFlightRecord
	bytes   int
}

// Batcher accumulates normalized records into batches bounded by a maximum
// row count and a maximum byte-size estimate, whichever triggers first.
// Bounded batches cap per-write latency and memory; the byte bound keeps
// writes below what the storage wire protocol rejects. Each lane owns one
// Batcher; it is not safe for concurrent use.
type Batcher struct {
	lane        int
	maxRows     int
	maxBytes    int
	buckets     int
	targetTable string

	seq     uint64
	byParts map[string]*pending
}

// NewBatcher creates a Batcher for one lane.
func NewBatcher(lane int, limits config.BatchLimits, targetTable string) *Batcher {
	return &Batcher{
		lane:        lane,
		maxRows:     limits.MaxRows,
		maxBytes:    limits.MaxBytes,
		buckets:     limits.PartitionBuckets,
		targetTable: targetTable,
		byParts:     make(map[string]*pending),
	}
}

// Add assigns the record to its partition bucket and returns any batches
// flushed by reaching a bound. Ordering within a batch is insertion order;
// ordering across batches is not guaranteed and not required, since the
// storage key determines final row identity.
func (b *Batcher) Add(rec model.NormalizedFlightRecord) []*model.Batch {
	key := rec.PartitionKey(b.buckets)
	p, ok := b.byParts[key]
	if !ok {
		p = &pending{}
		b.byParts[key] = p
	}

	recBytes := rec.EstimateBytes()
	var flushed []*model.Batch

	// Flush first if the record would push the pending batch over either
	// bound. A single record larger than the byte bound still ships alone:
	// rows are indivisible.
	if len(p.records) > 0 && (len(p.records)+1 > b.maxRows || p.bytes+recBytes > b.maxBytes) {
		flushed = append(flushed, b.flushBucket(key, p))
		p = b.byParts[key]
	}

	p.records = append(p.records, rec)
	p.bytes += recBytes

	if len(p.records) >= b.maxRows || p.bytes >= b.maxBytes {
		flushed = append(flushed, b.flushBucket(key, p))
	}
	return flushed
}

// Flush emits all partial batches at end of stream, in stable partition
// order so runs are reproducible.
func (b *Batcher) Flush() []*model.Batch {
	keys := make([]string, 0, len(b.byParts))
	for key, p := range b.byParts {
		if len(p.records) > 0 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var flushed []*model.Batch
	for _, key := range keys {
		flushed = append(flushed, b.flushBucket(key, b.byParts[key]))
	}
	return flushed
}

func (b *Batcher) flushBucket(key string, p *pending) *model.Batch {
	b.seq++
	out := &model.Batch{
		Lane:        b.lane,
		Sequence:    b.seq,
		Partition:   key,
		TargetTable: b.targetTable,
		Records:     p.records,
		SizeBytes:   p.bytes,
	}
	b.byParts[key] = &pending{}
	return out
}
