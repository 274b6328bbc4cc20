package stream

import (
	"math"
	"math/rand"
	"sort"

	"github.com/rzbill/engram/internal/hotbuf"
)

// Strategy selects how Sample picks records from the live window.
type Strategy uint8

// Sampling strategies.
const (
	// SampleUniform picks uniformly at random without replacement.
	SampleUniform Strategy = iota + 1
	// SampleRewardWeighted picks without replacement with probability
	// proportional to the magnitude of each record's accumulated reward.
	SampleRewardWeighted
	// SampleMostRecent picks the newest records by sequence.
	SampleMostRecent
	// SampleByKind keeps only records of the requested kind, newest first
	// when more than size match.
	SampleByKind
)

// String returns the wire name of the strategy.
func (st Strategy) String() string {
	switch st {
	case SampleUniform:
		return "uniform"
	case SampleRewardWeighted:
		return "reward_weighted"
	case SampleMostRecent:
		return "most_recent"
	case SampleByKind:
		return "by_kind"
	default:
		return "unknown"
	}
}

// ParseStrategy maps a wire name to a Strategy.
func ParseStrategy(name string) (Strategy, bool) {
	switch name {
	case "uniform":
		return SampleUniform, true
	case "reward_weighted":
		return SampleRewardWeighted, true
	case "most_recent":
		return SampleMostRecent, true
	case "by_kind":
		return SampleByKind, true
	default:
		return 0, false
	}
}

// SampleOptions parameterizes one Sample call.
type SampleOptions struct {
	Size     int
	Strategy Strategy
	// Kind restricts SampleByKind; ignored by the other strategies.
	Kind uint8
}

// minWeight keeps zero-reward records samplable under the weighted
// strategy instead of giving them probability zero.
const minWeight = 1e-9

// Sample returns up to opts.Size copies of live records chosen by the
// configured strategy, in sequence order. It never blocks and never
// mutates the buffer; the result is a point-in-time view that may already
// be partially rotated out by the time the caller looks at it.
func (s *Stream) Sample(opts SampleOptions) []hotbuf.Record {
	return SampleRecords(s.buf.Snapshot(), opts)
}

// SampleRecords applies a strategy to an already-materialized snapshot.
// Callers that narrow the live window first, for example with a filter
// expression, hand the narrowed slice here. The slice may be reordered
// in place.
func SampleRecords(live []hotbuf.Record, opts SampleOptions) []hotbuf.Record {
	if opts.Size <= 0 || len(live) == 0 {
		return nil
	}

	switch opts.Strategy {
	case SampleRewardWeighted:
		return sampleWeighted(live, opts.Size)
	case SampleMostRecent:
		if len(live) > opts.Size {
			live = live[len(live)-opts.Size:]
		}
		return live
	case SampleByKind:
		kept := live[:0]
		for _, rec := range live {
			if rec.Kind == opts.Kind {
				kept = append(kept, rec)
			}
		}
		if len(kept) > opts.Size {
			kept = kept[len(kept)-opts.Size:]
		}
		if len(kept) == 0 {
			return nil
		}
		return kept
	default:
		return sampleUniform(live, opts.Size)
	}
}

func sampleUniform(live []hotbuf.Record, size int) []hotbuf.Record {
	if size >= len(live) {
		return live
	}
	// Partial Fisher-Yates: after i swaps the first i slots hold the draw.
	for i := 0; i < size; i++ {
		j := i + rand.Intn(len(live)-i)
		live[i], live[j] = live[j], live[i]
	}
	out := live[:size]
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// sampleWeighted draws without replacement with probability proportional
// to |RewardTotal| using the exponential-key method: each record gets key
// u^(1/w) for u uniform in (0,1), and the size largest keys win.
func sampleWeighted(live []hotbuf.Record, size int) []hotbuf.Record {
	if size >= len(live) {
		return live
	}
	keys := make([]float64, len(live))
	for i, rec := range live {
		w := math.Abs(rec.RewardTotal)
		if w < minWeight {
			w = minWeight
		}
		u := rand.Float64()
		for u == 0 {
			u = rand.Float64()
		}
		keys[i] = math.Pow(u, 1/w)
	}
	idx := make([]int, len(live))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return keys[idx[a]] > keys[idx[b]] })
	out := make([]hotbuf.Record, size)
	for i := 0; i < size; i++ {
		out[i] = live[idx[i]]
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}
