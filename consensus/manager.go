// Package consensus implements the round state machine (spec §4): it
// drives proposing, voting and QC/TC formation (it does not change epochs:
// the epoch and leader selector it starts with stay fixed) by wiring
// together the Block Store, Safety Rules, Quorum Store and the Pipeline
// Coordinator behind a single-threaded Run loop, and triggers peer-assisted
// recovery when it falls behind.
//
// Grounded on the teacher's rootchain/consensus.ConsensusManager (observed
// through its consensus_recovery_test.go, whose source is no longer kept in
// this tree since every behavior it grounded is now reproduced directly):
// its id/net/leaderSelector/pacemaker/params/recovery/certResultCh shape,
// and its sendRecoveryRequests/msgToRecoveryInfo recovery-trigger logic,
// reproduced here against the generalized rbft/blocksync message set
// instead of the teacher's abdrc/drctypes ones. Each inbound message is
// traced end to end via go.opentelemetry.io/otel/trace, spanning a round's
// propose/vote/timeout handling.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Galxe/gravity-sdk/consensus/blockstore"
	ccrypto "github.com/Galxe/gravity-sdk/consensus/crypto"
	"github.com/Galxe/gravity-sdk/consensus/leader"
	"github.com/Galxe/gravity-sdk/consensus/safety"
	ctypes "github.com/Galxe/gravity-sdk/consensus/types"
	"github.com/Galxe/gravity-sdk/network"
	"github.com/Galxe/gravity-sdk/network/protocol/blocksync"
	qswire "github.com/Galxe/gravity-sdk/network/protocol/quorumstore"
	"github.com/Galxe/gravity-sdk/network/protocol/rbft"
	"github.com/Galxe/gravity-sdk/observability/logger"
	"github.com/Galxe/gravity-sdk/pipeline"
	"github.com/Galxe/gravity-sdk/quorumstore"
)

// statusReqShelfLife is how long a blocksync.Request stays "in flight": any
// further recovery trigger within this window is suppressed, whatever round
// it points at, but once it elapses a repeat request is allowed (the peer
// may have dropped the first one).
const statusReqShelfLife = 2 * time.Second

// recoveryState tracks the single outstanding recovery request, if any.
// Grounded on the teacher's recoveryState{triggerMsg, toRound, sent}.
type recoveryState struct {
	triggerMsg any
	toRound    uint64
	sent       time.Time
}

// pendingVotes tallies the votes seen so far for one round on the first
// (VoteInfo, LedgerCommitInfo) pair seen for it, the pair every honest vote
// on the same proposal shares, so the accumulated LedgerCommitSigs can be
// stapled directly onto the resulting QuorumCert once they reach quorum.
type pendingVotes struct {
	voteInfo   *ctypes.RoundInfo
	commitInfo *ctypes.LedgerCommitInfo
	sigs       map[ctypes.NodeID][]byte
}

// Manager drives the round state machine for one validator. Grounded on
// the teacher's ConsensusManager: id, net, leaderSelector, pacemaker,
// params, recovery and certResultCh are all named the same way there.
type Manager struct {
	id             ctypes.NodeID
	signer         ccrypto.Signer
	vs             *ctypes.ValidatorSet
	trustBase      rbft.TrustBase
	net            network.Network
	leaderSelector leader.Selector
	blockStore     *blockstore.BlockStore
	committer      blockstore.StateCommitter
	safety         *safety.Module
	quorumStore    *quorumstore.Store
	pipeline       *pipeline.Coordinator
	pacemaker      *Pacemaker
	params         Params
	log            *slog.Logger
	tracer         trace.Tracer

	mu       sync.Mutex
	recovery *recoveryState

	// votes and timeouts accumulate toward a QC/TC for the round they're
	// keyed by; both are only ever touched from the single-threaded Run
	// loop, so no lock guards them.
	votes    map[uint64]*pendingVotes
	timeouts map[uint64]map[ctypes.NodeID]ctypes.TimeoutSignature

	certResultCh chan *ctypes.QuorumCert
}

func NewManager(
	id ctypes.NodeID,
	signer ccrypto.Signer,
	vs *ctypes.ValidatorSet,
	trustBase rbft.TrustBase,
	net network.Network,
	selector leader.Selector,
	bs *blockstore.BlockStore,
	committer blockstore.StateCommitter,
	sm *safety.Module,
	qs *quorumstore.Store,
	pl *pipeline.Coordinator,
	log *slog.Logger,
	opts ...Option,
) (*Manager, error) {
	if net == nil {
		return nil, errors.New("network is nil")
	}
	if bs == nil {
		return nil, errors.New("block store is nil")
	}
	if sm == nil {
		return nil, errors.New("safety module is nil")
	}
	if signer == nil {
		return nil, errors.New("signer is nil")
	}
	if committer == nil {
		return nil, errors.New("state committer is nil")
	}
	params := NewParams()
	for _, opt := range opts {
		opt(&params)
	}
	startRound := bs.GetHighQc().GetRound() + 1
	if log == nil {
		log = logger.NOP()
	}
	return &Manager{
		id:             id,
		signer:         signer,
		vs:             vs,
		trustBase:      trustBase,
		net:            net,
		leaderSelector: selector,
		blockStore:     bs,
		committer:      committer,
		safety:         sm,
		quorumStore:    qs,
		pipeline:       pl,
		pacemaker:      NewPacemaker(startRound, params.LocalTimeout),
		params:         params,
		log:            log,
		tracer:         otel.Tracer("github.com/Galxe/gravity-sdk/consensus"),
		votes:          make(map[uint64]*pendingVotes),
		timeouts:       make(map[uint64]map[ctypes.NodeID]ctypes.TimeoutSignature),
		certResultCh:   make(chan *ctypes.QuorumCert, 1),
	}, nil
}

func (m *Manager) GetCurrentRound() uint64 { return m.pacemaker.GetCurrentRound() }

// Run drives the round state machine until ctx is cancelled, dispatching
// inbound wire messages and local timeouts.
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-m.net.ReceivedChannel():
			if err := m.handleMessage(ctx, msg); err != nil {
				m.log.Warn("handling inbound message failed", "error", err)
			}
		case <-m.pacemaker.TimeoutC():
			if err := m.onLocalTimeout(ctx); err != nil {
				m.log.Warn("local timeout handling failed", "error", err)
			}
		}
	}
}

func (m *Manager) handleMessage(ctx context.Context, msg any) error {
	ctx, span := m.tracer.Start(ctx, "consensus.handleMessage", trace.WithAttributes(
		attribute.String("message_type", fmt.Sprintf("%T", msg)),
		attribute.Int64("round", int64(m.pacemaker.GetCurrentRound())),
	))
	defer span.End()

	var err error
	switch v := msg.(type) {
	case *rbft.ProposalMsg:
		err = m.onProposal(ctx, v)
	case *rbft.VoteMsg:
		err = m.onVote(ctx, v)
	case *rbft.TimeoutMsg:
		err = m.onTimeout(ctx, v)
	case *blocksync.Request:
		err = m.onBlockSyncRequest(ctx, v)
	case *blocksync.Response:
		return nil // handled by the recovery package, not the RSM itself
	case *qswire.BatchMsg:
		err = m.onBatch(ctx, v)
	case *qswire.BatchAckMsg:
		err = m.onBatchAck(ctx, v)
	case *qswire.ProofOfStoreMsg:
		err = m.onProofOfStore(ctx, v)
	default:
		err = fmt.Errorf("unrecognized message type %T", msg)
	}
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// onProposal is the voter path of spec §4.3: validate the proposal,
// advance on its embedded certificate, add the block to the store (running
// it through the GCEI committer) and, if Safety Rules agrees, cast a vote
// and forward it to the round's next leader.
func (m *Manager) onProposal(ctx context.Context, p *rbft.ProposalMsg) error {
	if err := p.IsValid(); err != nil {
		return fmt.Errorf("invalid proposal: %w", err)
	}
	if m.trustBase != nil {
		if err := p.Verify(m.trustBase); err != nil {
			return fmt.Errorf("invalid proposal: %w", err)
		}
	}
	if p.Block.Qc != nil {
		if err := m.blockStore.ProcessQc(p.Block.Qc); err != nil {
			return fmt.Errorf("processing proposal's qc: %w", err)
		}
		if err := m.submitCommittedBlock(ctx, p.Block.Qc); err != nil {
			return fmt.Errorf("submitting committed block to pipeline: %w", err)
		}
		if advanced := m.pacemaker.AdvanceRound(p.Block.Qc, p.LastRoundTC); advanced {
			m.pacemaker.ResetTimer()
		}
	}
	if p.Block.GetRound() > m.pacemaker.GetCurrentRound()+1 {
		return m.sendRecoveryRequests(ctx, p)
	}

	rootHash, err := m.blockStore.Add(p.Block, m.committer)
	if err != nil {
		return fmt.Errorf("adding proposed block to store: %w", err)
	}
	vote, err := m.safety.MakeVote(p.Block, rootHash, m.blockStore.GetHighQc(), p.LastRoundTC)
	if err != nil {
		return fmt.Errorf("not safe to vote: %w", err)
	}
	if err := m.blockStore.StoreLastVote(vote); err != nil {
		return fmt.Errorf("persisting vote: %w", err)
	}
	m.pacemaker.ResetTimer()

	vm := &rbft.VoteMsg{Vote: vote, SyncInfo: m.currentSyncInfo()}
	nextLeader := m.leaderSelector.GetLeaderForRound(p.Block.Round + 1)
	if nextLeader == m.id {
		return m.onVote(ctx, vm)
	}
	return m.net.Send(ctx, vm, m.peerIDs([]ctypes.NodeID{nextLeader})...)
}

// onVote tallies v toward a QC for its round (spec §4.3's "QC formation");
// once 2f+1 voting power has signed, it commits the QC, advances the round
// and proposes if this node now leads it. Mirrors onTimeout's round-ahead
// check against the embedded certificate, checked before any local state is
// mutated: a vote's HighQc can put this node behind just as a timeout's can.
func (m *Manager) onVote(ctx context.Context, v *rbft.VoteMsg) error {
	if err := v.IsValid(); err != nil {
		return fmt.Errorf("invalid vote: %w", err)
	}
	if v.Vote.HighQc != nil {
		if v.Vote.HighQc.GetRound() > m.pacemaker.GetCurrentRound() {
			return m.sendRecoveryRequests(ctx, v)
		}
		if err := m.blockStore.ProcessQc(v.Vote.HighQc); err != nil {
			return fmt.Errorf("processing vote's high qc: %w", err)
		}
		if err := m.submitCommittedBlock(ctx, v.Vote.HighQc); err != nil {
			return fmt.Errorf("submitting committed block to pipeline: %w", err)
		}
		if advanced := m.pacemaker.AdvanceRound(v.Vote.HighQc, nil); advanced {
			m.pacemaker.ResetTimer()
		}
	}
	qc := m.addVote(v.Vote)
	if qc == nil {
		return nil
	}
	if err := m.blockStore.ProcessQc(qc); err != nil {
		return fmt.Errorf("processing formed qc: %w", err)
	}
	if err := m.submitCommittedBlock(ctx, qc); err != nil {
		return fmt.Errorf("submitting committed block to pipeline: %w", err)
	}
	if advanced := m.pacemaker.AdvanceRound(qc, nil); advanced {
		m.pacemaker.ResetTimer()
	}
	return m.maybePropose(ctx)
}

// submitCommittedBlock hands the block qc just committed (spec §4.1's
// 2-chain rule) to the Pipeline Coordinator's real Execute -> Attest ->
// Commit flow (spec §5), once ProcessQc has already made that block the
// Block Store's root (its placeholder state commitment was computed by
// blockstore.StateCommitter.CommitState when Add inserted it). A no-op when
// no pipeline is configured or qc does not carry a commit.
func (m *Manager) submitCommittedBlock(ctx context.Context, qc *ctypes.QuorumCert) error {
	if m.pipeline == nil || !qc.IsCommitQc() {
		return nil
	}
	committedRound := qc.GetParentRound()
	block, err := m.blockStore.Block(committedRound)
	if err != nil {
		return fmt.Errorf("looking up committed block round %d: %w", committedRound, err)
	}
	return m.pipeline.Submit(ctx, block.BlockData)
}

// addVote accumulates vote's LedgerCommitSig toward the QC for its round,
// returning the assembled QuorumCert once 2f+1 voting power has signed the
// same (VoteInfo, LedgerCommitInfo) pair, nil otherwise.
func (m *Manager) addVote(vote *ctypes.Vote) *ctypes.QuorumCert {
	round := vote.GetRound()
	pv, ok := m.votes[round]
	if !ok {
		pv = &pendingVotes{voteInfo: vote.VoteInfo, commitInfo: vote.LedgerCommitInfo, sigs: make(map[ctypes.NodeID][]byte)}
		m.votes[round] = pv
	} else if !reflect.DeepEqual(pv.voteInfo, vote.VoteInfo) || !reflect.DeepEqual(pv.commitInfo, vote.LedgerCommitInfo) {
		return nil // signs a different pair than the one tallied for this round
	}
	pv.sigs[vote.Author] = vote.LedgerCommitSig
	if !m.vs.HasQuorum(pv.sigs) {
		return nil
	}
	delete(m.votes, round)
	return &ctypes.QuorumCert{VoteInfo: pv.voteInfo, LedgerCommitInfo: pv.commitInfo, Signatures: pv.sigs}
}

// onTimeout tallies t toward a TC for its round (spec §4.3's "TC
// formation"); once 2f+1 voting power has timed out, it records the TC,
// advances the round and proposes if this node now leads it.
func (m *Manager) onTimeout(ctx context.Context, t *rbft.TimeoutMsg) error {
	if m.trustBase != nil {
		if err := t.Verify(m.trustBase); err != nil {
			return fmt.Errorf("invalid timeout message: %w", err)
		}
	}
	if t.Timeout.GetHqcRound() > m.pacemaker.GetCurrentRound() {
		return m.sendRecoveryRequests(ctx, t)
	}
	tc := m.addTimeout(t)
	if tc == nil {
		return nil
	}
	if err := m.blockStore.ProcessTc(tc); err != nil {
		return fmt.Errorf("processing formed tc: %w", err)
	}
	if advanced := m.pacemaker.AdvanceRound(nil, tc); advanced {
		m.pacemaker.ResetTimer()
	}
	return m.maybePropose(ctx)
}

// addTimeout accumulates t's signature toward the TC for its round. A
// TimeoutMsg.Signature is over the exact same (round, epoch, hqcRound,
// author) layout a TC signer is checked against, so it can be reused
// directly as the TimeoutSignature without re-signing. Returns the
// assembled TimeoutCert once 2f+1 voting power has timed out, nil
// otherwise.
func (m *Manager) addTimeout(t *rbft.TimeoutMsg) *ctypes.TimeoutCert {
	round := t.GetRound()
	sigs, ok := m.timeouts[round]
	if !ok {
		sigs = make(map[ctypes.NodeID]ctypes.TimeoutSignature)
		m.timeouts[round] = sigs
	}
	sigs[t.Author] = ctypes.TimeoutSignature{HqcRound: t.Timeout.GetHqcRound(), Signature: t.Signature}

	asBytes := make(map[ctypes.NodeID][]byte, len(sigs))
	for id, sig := range sigs {
		asBytes[id] = sig.Signature
	}
	if !m.vs.HasQuorum(asBytes) {
		return nil
	}
	delete(m.timeouts, round)
	return &ctypes.TimeoutCert{Timeout: t.Timeout, Signatures: sigs}
}

// maybePropose proposes for the current round if this node is its leader
// (spec §4.3's leader path), called every time the round advances.
func (m *Manager) maybePropose(ctx context.Context) error {
	round := m.pacemaker.GetCurrentRound()
	if m.leaderSelector.GetLeaderForRound(round) != m.id {
		return nil
	}
	return m.proposeRound(ctx, round)
}

// proposeRound builds and broadcasts a proposal for round, following spec
// §4.3's "Proposal construction" algorithm: the parent is the highest QCed
// block (extended through a TC if the QC round doesn't directly precede
// round), the payload is drained from the Quorum Store, the timestamp is
// kept monotonic, and the block is gated by Safety Rules before it ever
// goes on the wire. The leader also self-delivers its own proposal so it
// casts a vote for it like every other validator.
func (m *Manager) proposeRound(ctx context.Context, round uint64) error {
	highQc := m.blockStore.GetHighQc()
	if highQc == nil {
		return errors.New("no high qc available to extend")
	}

	var lastRoundTC *ctypes.TimeoutCert
	if round != highQc.GetRound()+1 {
		tc, err := m.blockStore.GetLastTC()
		if err != nil {
			return fmt.Errorf("reading last tc: %w", err)
		}
		if tc == nil || tc.GetRound()+1 != round {
			return fmt.Errorf("cannot propose round %d: no contiguous qc or tc to extend", round)
		}
		lastRoundTC = tc
	}

	parent, err := m.blockStore.Block(highQc.GetRound())
	if err != nil {
		return fmt.Errorf("looking up parent block round %d: %w", highQc.GetRound(), err)
	}
	timestamp := uint64(timeNow().UnixMilli())
	if timestamp <= parent.BlockData.Timestamp {
		timestamp = parent.BlockData.Timestamp + 1
	}

	var proofs []*ctypes.ProofOfAvailability
	if m.quorumStore != nil {
		proofs = m.quorumStore.DrainForProposal(round)
	}
	block := &ctypes.BlockData{
		Version:   1,
		Author:    m.id,
		Round:     round,
		Epoch:     m.currentEpoch(),
		Timestamp: timestamp,
		Payload:   &ctypes.Payload{Proofs: proofs},
		Qc:        highQc,
	}
	if err := m.safety.SignProposal(block, lastRoundTC); err != nil {
		return fmt.Errorf("not safe to propose: %w", err)
	}

	pm := &rbft.ProposalMsg{Block: block, LastRoundTC: lastRoundTC, SyncInfo: m.currentSyncInfo()}
	if err := pm.Sign(m.signer); err != nil {
		return fmt.Errorf("signing proposal: %w", err)
	}
	if err := m.net.Send(ctx, pm, m.peerIDs(m.leaderSelector.GetNodes())...); err != nil {
		m.log.Warn("broadcasting proposal failed", "round", round, "error", err)
	}
	return m.onProposal(ctx, pm)
}

func (m *Manager) onBlockSyncRequest(ctx context.Context, req *blocksync.Request) error {
	if err := req.IsValid(); err != nil {
		return fmt.Errorf("invalid block sync request: %w", err)
	}
	return nil // validated only: no response is sent
}

// onBatch buffers a freshly disseminated batch (spec §4.4 step 1) and
// acknowledges storage back to its author so the author can accumulate
// receipts toward that batch's Proof of Availability.
func (m *Manager) onBatch(ctx context.Context, b *qswire.BatchMsg) error {
	if m.quorumStore == nil {
		return nil
	}
	if m.trustBase != nil {
		if err := b.Verify(m.trustBase); err != nil {
			return fmt.Errorf("invalid batch message: %w", err)
		}
	}
	if err := m.quorumStore.AddBatch(b.Batch); err != nil {
		return fmt.Errorf("buffering disseminated batch: %w", err)
	}

	ack := &qswire.BatchAckMsg{Digest: b.Batch.Digest, Signer: m.id}
	if err := ack.Sign(m.signer); err != nil {
		return fmt.Errorf("signing batch ack: %w", err)
	}
	return m.net.Send(ctx, ack, m.peerIDs([]ctypes.NodeID{b.Author})...)
}

// onBatchAck records a storage receipt (spec §4.4 step 2) toward the
// batch's Proof of Availability, broadcasting the proof to the whole
// validator set once 2f+1 receipts have accumulated.
func (m *Manager) onBatchAck(ctx context.Context, a *qswire.BatchAckMsg) error {
	if m.quorumStore == nil {
		return nil
	}
	if m.trustBase != nil {
		if err := a.Verify(m.trustBase); err != nil {
			return fmt.Errorf("invalid batch ack: %w", err)
		}
	}
	proof, err := m.quorumStore.AddReceipt(a.Digest, a.Signer, a.Signature)
	if err != nil {
		return fmt.Errorf("recording batch receipt: %w", err)
	}
	if proof == nil {
		return nil // quorum not yet reached
	}
	return m.net.Send(ctx, &qswire.ProofOfStoreMsg{Proof: proof}, m.peerIDs(m.leaderSelector.GetNodes())...)
}

// onProofOfStore registers an availability proof another validator formed
// (spec §4.4 step 3), letting this node reference the batch from a
// proposal it leads even though it never stored the batch body itself.
func (m *Manager) onProofOfStore(ctx context.Context, p *qswire.ProofOfStoreMsg) error {
	if m.quorumStore == nil {
		return nil
	}
	if err := p.IsValid(); err != nil {
		return fmt.Errorf("invalid proof of store message: %w", err)
	}
	if m.trustBase != nil {
		if err := qswire.VerifyProofOfStore(p.Proof, m.trustBase); err != nil {
			return fmt.Errorf("invalid proof of store: %w", err)
		}
	}
	return m.quorumStore.AddProofOfAvailability(p.Proof)
}

func (m *Manager) onLocalTimeout(ctx context.Context) error {
	round := m.pacemaker.GetCurrentRound()
	timeout := &ctypes.Timeout{
		Round:  round,
		Epoch:  m.currentEpoch(),
		HighQc: m.blockStore.GetHighQc(),
	}
	lastTC, err := m.blockStore.GetLastTC()
	if err != nil {
		return fmt.Errorf("reading last tc: %w", err)
	}
	// SignTimeout enforces Safety Rules (never regress behind a seen QC/TC
	// round) and persists the new highest-voted round before anything goes
	// on the wire; the TimeoutSignature it returns is for TC aggregation,
	// not the message's own authentication signature below.
	if _, err := m.safety.SignTimeout(timeout, lastTC); err != nil {
		return fmt.Errorf("not safe to timeout: %w", err)
	}
	tm := rbft.NewTimeoutMsg(timeout, m.id, lastTC)
	tm.SyncInfo = m.currentSyncInfo()
	if err := tm.Sign(m.signer); err != nil {
		return fmt.Errorf("signing timeout message: %w", err)
	}
	m.pacemaker.ResetTimer()
	return m.net.Send(ctx, tm, m.peerIDs(m.leaderSelector.GetNodes())...)
}

// currentSyncInfo snapshots this node's own "where am I" state (spec §6's
// SyncInfo): its highest known QC, the QC that last committed, and its
// highest known TC, so a recipient can detect it has fallen behind straight
// off any consensus message instead of needing a separate probe round-trip.
func (m *Manager) currentSyncInfo() *ctypes.SyncInfo {
	si := &ctypes.SyncInfo{HighQc: m.blockStore.GetHighQc()}
	if state := m.blockStore.GetState(); state != nil && state.CommittedHead != nil {
		si.HighCommitQc = state.CommittedHead.CommitQc
	}
	if tc, err := m.blockStore.GetLastTC(); err == nil {
		si.HighTc = tc
	}
	return si
}

// currentEpoch reads the epoch off the committed head, 0 before any commit.
func (m *Manager) currentEpoch() uint64 {
	state := m.blockStore.GetState()
	if state == nil || state.CommittedHead == nil {
		return 0
	}
	return state.CommittedHead.Block.GetEpoch()
}

// committedRound reads the round off the committed head, 0 before any commit
// or when no block store is attached.
func (m *Manager) committedRound() uint64 {
	if m.blockStore == nil {
		return 0
	}
	state := m.blockStore.GetState()
	if state == nil || state.CommittedHead == nil {
		return 0
	}
	return state.CommittedHead.Block.GetRound()
}

func (m *Manager) peerIDs(nodes []ctypes.NodeID) []peer.ID {
	out := make([]peer.ID, len(nodes))
	for i, n := range nodes {
		out[i] = peer.ID(n)
	}
	return out
}

// sendRecoveryRequests triggers peer-assisted recovery on behalf of msg,
// whose embedded certificate puts this node behind. Grounded on the
// teacher's ConsensusManager.sendRecoveryRequests: the same "already in
// recovery, ignore unless the shelf life elapsed" suppression and the same
// practice of addressing the blocksync.Request to every signer named in the
// triggering message's certificate.
func (m *Manager) sendRecoveryRequests(ctx context.Context, msg any) error {
	toRound, signers, err := msgToRecoveryInfo(msg)
	if err != nil {
		return fmt.Errorf("failed to extract recovery info: %w", err)
	}

	m.mu.Lock()
	if m.recovery != nil && time.Since(m.recovery.sent) < statusReqShelfLife {
		prevRound := m.recovery.toRound
		m.mu.Unlock()
		return fmt.Errorf("already in recovery to round %d, ignoring request to recover to round %d", prevRound, toRound)
	}
	m.recovery = &recoveryState{triggerMsg: msg, toRound: toRound, sent: time.Now()}
	m.mu.Unlock()

	req := &blocksync.Request{
		NodeID:     string(m.id),
		BeginRound: m.committedRound() + 1,
		EndRound:   toRound,
	}
	peers := make([]peer.ID, 0, len(signers))
	for id := range signers {
		peers = append(peers, peer.ID(id))
	}
	return m.net.Send(ctx, req, peers...)
}

// syncInfoOrEmbeddedQc prefers the QC advertised by a message's own
// SyncInfo (spec §6's universal "where am I" probe), falling back to the
// certificate embedded in the message itself when SyncInfo is absent, e.g.
// from a peer running an older wire format.
func syncInfoOrEmbeddedQc(si *ctypes.SyncInfo, embedded *ctypes.QuorumCert) *ctypes.QuorumCert {
	if si != nil && si.HighQc != nil {
		return si.HighQc
	}
	return embedded
}

// msgToRecoveryInfo extracts the round to recover to and the set of peers
// (by NodeID, keyed to their raw certifying signature bytes) that can help,
// from any message carrying a certificate ahead of our own state.
// Grounded on the teacher's identically-named function.
func msgToRecoveryInfo(msg any) (uint64, map[ctypes.NodeID][]byte, error) {
	switch v := msg.(type) {
	case *rbft.ProposalMsg:
		if v.Block == nil {
			return 0, nil, errors.New("unknown message type, cannot be used for recovery: proposal missing block")
		}
		return qcRecoveryInfo(syncInfoOrEmbeddedQc(v.SyncInfo, v.Block.Qc))
	case *rbft.VoteMsg:
		if v.Vote == nil {
			return 0, nil, errors.New("unknown message type, cannot be used for recovery: vote message missing vote")
		}
		return qcRecoveryInfo(syncInfoOrEmbeddedQc(v.SyncInfo, v.Vote.HighQc))
	case *rbft.TimeoutMsg:
		if v.Timeout == nil {
			return 0, nil, errors.New("unknown message type, cannot be used for recovery: timeout message missing timeout info")
		}
		return qcRecoveryInfo(syncInfoOrEmbeddedQc(v.SyncInfo, v.Timeout.HighQc))
	case *ctypes.QuorumCert:
		// A bare QC (no surrounding proposal/vote/timeout) is gossiped once
		// it commits its parent; recovering "to" it means catching up to
		// the round it certifies as parent, not its own round.
		signers, err := qcSigners(v)
		return v.GetParentRound(), signers, err
	default:
		return 0, nil, fmt.Errorf("unknown message type, cannot be used for recovery: %T", msg)
	}
}

func qcRecoveryInfo(qc *ctypes.QuorumCert) (uint64, map[ctypes.NodeID][]byte, error) {
	signers, err := qcSigners(qc)
	return qc.GetRound(), signers, err
}

func qcSigners(qc *ctypes.QuorumCert) (map[ctypes.NodeID][]byte, error) {
	if qc == nil {
		return nil, errors.New("unknown message type, cannot be used for recovery: nil quorum certificate")
	}
	signers := make(map[ctypes.NodeID][]byte, len(qc.Signatures))
	for id, sig := range qc.Signatures {
		signers[id] = sig
	}
	return signers, nil
}

