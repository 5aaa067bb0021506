package types

// TreeDepths groups the Merkle tree depths a poll is deployed with. The
// subdepth fixes the size of the message batches the processing circuit
// consumes: one batch is MessageTreeArity^MessageTreeSubDepth messages.
type TreeDepths struct {
	IntStateTreeDepth   int `json:"intStateTreeDepth"`
	MessageTreeDepth    int `json:"messageTreeDepth"`
	MessageTreeSubDepth int `json:"messageTreeSubDepth"`
	VoteOptionTreeDepth int `json:"voteOptionTreeDepth"`
}

// BatchSizes groups the batch sizes of the three proving phases.
type BatchSizes struct {
	MessageBatchSize int `json:"messageBatchSize"`
	TallyBatchSize   int `json:"tallyBatchSize"`
	SubsidyBatchSize int `json:"subsidyBatchSize"`
}

// MaxValues groups the capacity limits of a poll.
type MaxValues struct {
	MaxMessages    int `json:"maxMessages"`
	MaxVoteOptions int `json:"maxVoteOptions"`
}

// Equal reports whether both tree depth sets match.
func (t TreeDepths) Equal(o TreeDepths) bool {
	return t == o
}

// Equal reports whether both batch size sets match.
func (b BatchSizes) Equal(o BatchSizes) bool {
	return b == o
}

// Equal reports whether both capacity limits match.
func (m MaxValues) Equal(o MaxValues) bool {
	return m == o
}
