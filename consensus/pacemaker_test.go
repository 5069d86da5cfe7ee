package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ctypes "github.com/Galxe/gravity-sdk/consensus/types"
)

func TestPacemaker_GetCurrentRound(t *testing.T) {
	p := NewPacemaker(5, time.Second)
	require.EqualValues(t, 5, p.GetCurrentRound())
}

func TestPacemaker_AdvanceRoundOnHigherQc(t *testing.T) {
	p := NewPacemaker(1, time.Hour)
	qc := &ctypes.QuorumCert{VoteInfo: &ctypes.RoundInfo{RoundNumber: 3}}

	advanced := p.AdvanceRound(qc, nil)
	require.True(t, advanced)
	require.EqualValues(t, 4, p.GetCurrentRound())
	require.Same(t, qc, p.HighQc())
}

func TestPacemaker_AdvanceRoundIgnoresStaleCert(t *testing.T) {
	p := NewPacemaker(10, time.Hour)
	stale := &ctypes.QuorumCert{VoteInfo: &ctypes.RoundInfo{RoundNumber: 3}}

	advanced := p.AdvanceRound(stale, nil)
	require.False(t, advanced)
	require.EqualValues(t, 10, p.GetCurrentRound())
}

func TestPacemaker_AdvanceRoundPrefersHigherTC(t *testing.T) {
	p := NewPacemaker(1, time.Hour)
	qc := &ctypes.QuorumCert{VoteInfo: &ctypes.RoundInfo{RoundNumber: 3}}
	tc := &ctypes.TimeoutCert{Timeout: &ctypes.Timeout{Round: 5}}

	advanced := p.AdvanceRound(qc, tc)
	require.True(t, advanced)
	require.EqualValues(t, 6, p.GetCurrentRound())
	require.Same(t, tc, p.LastTC())
	require.Same(t, qc, p.HighQc())
}

func TestPacemaker_TimeoutFiresWithoutProgress(t *testing.T) {
	p := NewPacemaker(1, 10*time.Millisecond)
	select {
	case <-p.TimeoutC():
	case <-time.After(time.Second):
		t.Fatal("local timeout never fired")
	}
}

func TestPacemaker_ResetTimerDelaysTimeout(t *testing.T) {
	p := NewPacemaker(1, 30*time.Millisecond)
	time.Sleep(15 * time.Millisecond)
	p.ResetTimer()

	select {
	case <-p.TimeoutC():
		t.Fatal("timeout fired before the reset window elapsed")
	case <-time.After(20 * time.Millisecond):
	}
}
