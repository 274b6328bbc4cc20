package eventsvc

import (
	"context"
)

// Event is the transport-facing view of one hot buffer record. Sequence
// numbers are stream-wide: the hot buffer position plus the stream's
// persisted base, so they stay stable across journal compactions.
type Event struct {
	ID          string    `json:"id"`
	Seq         uint64    `json:"seq"`
	Kind        string    `json:"kind"`
	Step        uint64    `json:"step"`
	State       []float32 `json:"state"`
	Action      []float32 `json:"action"`
	Reward      float64   `json:"reward"`
	RewardTotal float64   `json:"reward_total"`
	TsUs        int64     `json:"ts_us"`
}

// PublishRequest carries the producer-supplied fields of one record. The
// service assigns the ID, sequence, and timestamp. State and Action may
// be shorter than the record's fixed dimensions; missing components are
// zero.
type PublishRequest struct {
	Kind        string    `json:"kind"`
	Step        uint64    `json:"step"`
	State       []float32 `json:"state"`
	Action      []float32 `json:"action"`
	Reward      float64   `json:"reward"`
	RewardTotal float64   `json:"reward_total"`
}

// SampleRequest parameterizes one replay batch draw.
type SampleRequest struct {
	// Size is the maximum number of events returned.
	Size int `json:"size"`
	// Strategy is one of uniform, reward_weighted, most_recent, by_kind.
	// Empty selects uniform.
	Strategy string `json:"strategy"`
	// Kind restricts the by_kind strategy; ignored otherwise.
	Kind string `json:"kind,omitempty"`
	// Filter is an optional CEL expression that narrows the candidate
	// pool before the strategy draws from it.
	Filter string `json:"filter,omitempty"`
}

// SubscribeOptions controls live delivery.
type SubscribeOptions struct {
	// Filter is an optional CEL expression evaluated per event. When
	// empty, all events are delivered.
	Filter string
	// Limit is the maximum number of events to deliver before stopping.
	// When 0, the subscription runs until a context ends.
	Limit int
}

// SubscribeSink is implemented by transports to receive streamed events.
type SubscribeSink interface {
	Send(Event) error
	Context() context.Context
	Flush() error
}

// CreateStreamOptions registers a stream with optional tuning overrides.
// Zero-valued fields inherit the node defaults. Overrides persist in the
// stream's meta record and take effect when the stream is next opened.
type CreateStreamOptions struct {
	Name           string
	BufferCapacity int
	BatchSize      int
	BatchTimeoutMs int64
	QueueCapacity  int
}

// StreamStats snapshots one stream's counters. All sequence fields use
// stream-wide numbering.
type StreamStats struct {
	Stream string `json:"stream"`

	// Hot window.
	FirstLiveSeq uint64 `json:"first_live_seq"`
	NextSeq      uint64 `json:"next_seq"`
	LiveRecords  int    `json:"live_records"`
	Capacity     int    `json:"capacity"`
	TotalWritten uint64 `json:"total_written"`
	SeqBase      uint64 `json:"seq_base"`

	// Journal writer.
	JournalEntries uint64 `json:"journal_entries"`
	JournalBytes   uint64 `json:"journal_bytes"`
	JournalBatches uint64 `json:"journal_batches"`
	JournalDropped uint64 `json:"journal_dropped"`
	QueueDepth     int    `json:"queue_depth"`

	// Fan-out.
	Subscribers       int    `json:"subscribers"`
	ActiveSubscribers int    `json:"active_subscribers"`
	FanoutDropped     uint64 `json:"fanout_dropped"`

	// Last open.
	RecordsReplayed int  `json:"records_replayed"`
	Repaired        bool `json:"repaired"`
}
