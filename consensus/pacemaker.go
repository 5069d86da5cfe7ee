package consensus

import (
	"sync"
	"time"

	ctypes "github.com/Galxe/gravity-sdk/consensus/types"
)

// Pacemaker tracks the current round and when it started, firing a local
// timeout if no quorum certificate or timeout certificate advances the
// round within Params.LocalTimeout. Grounded on the teacher's
// pacemaker.GetCurrentRound()/maxRoundLen referenced throughout
// consensus_recovery_test.go.
type Pacemaker struct {
	mu            sync.Mutex
	round         uint64
	highQc        *ctypes.QuorumCert
	lastTC        *ctypes.TimeoutCert
	roundStart    time.Time
	localTimeout  time.Duration
	maxRoundLen   time.Duration
	timer         *time.Timer
}

func NewPacemaker(startRound uint64, localTimeout time.Duration) *Pacemaker {
	return &Pacemaker{
		round:        startRound,
		roundStart:   timeNow(),
		localTimeout: localTimeout,
		maxRoundLen:  localTimeout,
		timer:        time.NewTimer(localTimeout),
	}
}

// timeNow exists so tests can see a single call site if a clock needs
// faking later; today it is just time.Now.
func timeNow() time.Time { return time.Now() }

func (p *Pacemaker) GetCurrentRound() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.round
}

func (p *Pacemaker) HighQc() *ctypes.QuorumCert {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.highQc
}

func (p *Pacemaker) LastTC() *ctypes.TimeoutCert {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTC
}

// TimeoutC fires once Params.LocalTimeout has elapsed since the round
// started without AdvanceRound being called.
func (p *Pacemaker) TimeoutC() <-chan time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timer.C
}

// AdvanceRound moves the pacemaker to round+1 for whichever of qc/tc
// certifies the higher round, resetting the timeout clock. Returns whether
// the round actually advanced (qc/tc may be stale relative to the current
// round, in which case nothing happens).
func (p *Pacemaker) AdvanceRound(qc *ctypes.QuorumCert, tc *ctypes.TimeoutCert) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if qc != nil && qc.GetRound() >= p.highQc.GetRound() {
		p.highQc = qc
	}

	certRound := qc.GetRound()
	if tc.GetRound() > certRound {
		certRound = tc.GetRound()
		p.lastTC = tc
	}
	if certRound+1 <= p.round {
		return false
	}
	p.round = certRound + 1
	p.roundStart = timeNow()
	p.resetTimerLocked()
	return true
}

func (p *Pacemaker) resetTimerLocked() {
	if !p.timer.Stop() {
		select {
		case <-p.timer.C:
		default:
		}
	}
	p.timer.Reset(p.localTimeout)
}

// ResetTimer restarts the local-timeout clock without changing the round,
// used when a proposal for the current round arrives so a slow-but-present
// leader doesn't trigger a spurious timeout.
func (p *Pacemaker) ResetTimer() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetTimerLocked()
}
