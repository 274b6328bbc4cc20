package controllers

// Common request/response types for HTTP controllers

// createStreamReq represents a request to register a stream, optionally
// overriding its persisted tuning.
type createStreamReq struct {
	Stream         string `json:"stream"`
	BufferCapacity int    `json:"buffer_capacity"`
	BatchSize      int    `json:"batch_size"`
	BatchTimeoutMs int64  `json:"batch_timeout_ms"`
	QueueCapacity  int    `json:"queue_capacity"`
}

// publishReq represents a request to publish one event to a stream.
type publishReq struct {
	Stream      string    `json:"stream"`
	Kind        string    `json:"kind"`
	Step        uint64    `json:"step"`
	State       []float32 `json:"state"`
	Action      []float32 `json:"action"`
	Reward      float64   `json:"reward"`
	RewardTotal float64   `json:"reward_total"`
}

// publishResp carries the stream-wide sequence assigned to a publish.
type publishResp struct {
	Stream string `json:"stream"`
	Seq    uint64 `json:"seq"`
}

// sampleReq represents a request to draw a replay batch.
type sampleReq struct {
	Stream   string `json:"stream"`
	Size     int    `json:"size"`
	Strategy string `json:"strategy"`
	Kind     string `json:"kind"`
	Filter   string `json:"filter"`
}

// rewardReq represents a request to mutate a reward field on a live record.
type rewardReq struct {
	Stream string  `json:"stream"`
	Seq    uint64  `json:"seq"`
	Field  string  `json:"field"`
	Value  float64 `json:"value"`
}

// streamReq represents a request naming only a stream (flush, snapshot,
// compact).
type streamReq struct {
	Stream string `json:"stream"`
}

// compactResp reports what a journal compaction kept and dropped.
type compactResp struct {
	Stream         string `json:"stream"`
	EntriesKept    int    `json:"entries_kept"`
	EntriesDropped int    `json:"entries_dropped"`
	MarkersDropped int    `json:"markers_dropped"`
	BytesBefore    int64  `json:"bytes_before"`
	BytesAfter     int64  `json:"bytes_after"`
}

// commitCursorReq represents a consumer group position commit.
type commitCursorReq struct {
	Stream string `json:"stream"`
	Group  string `json:"group"`
	Seq    uint64 `json:"seq"`
}

// cursorResp carries a consumer group's committed position.
type cursorResp struct {
	Stream string `json:"stream"`
	Group  string `json:"group"`
	Seq    uint64 `json:"seq"`
	Found  bool   `json:"found"`
}
