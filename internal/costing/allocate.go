package costing

import (
	"fmt"
	"math/bits"
	"sort"
)

// BucketKey identifies a (job, scope) attribution.
type BucketKey struct {
	JobID   int64
	ScopeID int64
}

func (k BucketKey) less(o BucketKey) bool {
	if k.JobID != o.JobID {
		return k.JobID < o.JobID
	}
	return k.ScopeID < o.ScopeID
}

// Bucket is time worked against one key.
type Bucket struct {
	BucketKey
	Seconds int64
}

// Share is the cents allocated to one key.
type Share struct {
	BucketKey
	Seconds int64
	Cents   int64
}

// Allocate splits grossCents across buckets in proportion to their seconds
// using the largest remainder method. Each share receives its floor, and the
// leftover cents go one each to the largest remainders, ties broken by
// ascending (job, scope). Buckets with the same key are merged and
// non-positive buckets ignored. Shares are returned ordered by key with
// zero-cent shares dropped; their sum is exactly grossCents.
//
// Positive gross with no time is ErrUnallocatableTime. Zero gross with no
// time allocates nothing.
func Allocate(grossCents int64, buckets []Bucket) ([]Share, error) {
	if grossCents < 0 {
		return nil, ErrNegativeGross
	}
	merged := make(map[BucketKey]int64, len(buckets))
	for _, b := range buckets {
		if b.Seconds <= 0 {
			continue
		}
		merged[b.BucketKey] += b.Seconds
	}
	var total uint64
	for _, sec := range merged {
		total += uint64(sec)
	}
	if total == 0 {
		if grossCents > 0 {
			return nil, ErrUnallocatableTime
		}
		return nil, nil
	}

	type part struct {
		share     Share
		remainder uint64
	}
	parts := make([]part, 0, len(merged))
	var assigned int64
	for key, sec := range merged {
		floor, rem := mulDiv(uint64(grossCents), uint64(sec), total)
		parts = append(parts, part{share: Share{BucketKey: key, Seconds: sec, Cents: int64(floor)}, remainder: rem})
		assigned += int64(floor)
	}
	leftover := grossCents - assigned
	if leftover < 0 || leftover > int64(len(parts)) {
		return nil, fmt.Errorf("costing: allocation leftover %d out of range", leftover)
	}

	sort.Slice(parts, func(i, j int) bool {
		if parts[i].remainder != parts[j].remainder {
			return parts[i].remainder > parts[j].remainder
		}
		return parts[i].share.less(parts[j].share.BucketKey)
	})
	for i := int64(0); i < leftover; i++ {
		parts[i].share.Cents++
	}

	shares := make([]Share, 0, len(parts))
	for _, p := range parts {
		if p.share.Cents > 0 {
			shares = append(shares, p.share)
		}
	}
	sort.Slice(shares, func(i, j int) bool { return shares[i].less(shares[j].BucketKey) })
	return shares, nil
}

// mulDiv returns floor(a*b/c) and the remainder without overflowing. The
// quotient must fit in 64 bits, which holds whenever b <= c.
func mulDiv(a, b, c uint64) (uint64, uint64) {
	hi, lo := bits.Mul64(a, b)
	return bits.Div64(hi, lo, c)
}
