package consensus

import "time"

// Params are the round-state-machine's tunables. Grounded on the teacher's
// NewConsensusParams/WithConsensusParams option (consensus_recovery_test.go
// overrides BlockRate and LocalTimeout for fast test networks).
type Params struct {
	// BlockRate is carried for configuration only: Manager does not read
	// it, and a leader proposes as soon as it enters its round.
	BlockRate time.Duration
	// LocalTimeout is how long a validator waits for round progress (a
	// valid proposal + QC) before emitting its own timeout signature.
	LocalTimeout time.Duration
}

func NewParams() Params {
	return Params{
		BlockRate:    500 * time.Millisecond,
		LocalTimeout: 10 * time.Second,
	}
}

// Option mutates Params at construction time.
type Option func(*Params)

func WithParams(p Params) Option {
	return func(dst *Params) { *dst = p }
}
