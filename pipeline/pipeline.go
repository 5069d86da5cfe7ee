// Package pipeline implements the Pipeline Coordinator (spec §5): once a
// block is QCed it moves through Executing -> Attesting -> Committed, with
// execution allowed to run out of order across blocks but commit
// notifications always delivered in strict round (FIFO) order.
//
// Grounded on the teacher's round-pipeline shape inferred from its
// block_store.go ProcessQc -> BlockTree.Commit flow, generalized from a
// single synchronous commit step into an explicit multi-stage pipeline
// driven by the GCEI adapter, and on golang.org/x/sync/errgroup for
// fan-out with first-error propagation (seen used for parallel work
// across the example pack). Each block's Execute -> Attest -> Commit
// lifetime is one go.opentelemetry.io/otel/trace span, with stage
// transitions recorded as span events.
package pipeline

import (
	"context"
	"crypto"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	ctypes "github.com/Galxe/gravity-sdk/consensus/types"
	"github.com/Galxe/gravity-sdk/gcei"
)

// Stage is where a block currently sits in the pipeline.
type Stage int

const (
	StageQueued Stage = iota
	StageExecuting
	StageAttesting
	StageCommitted
	StageAborted
)

func (s Stage) String() string {
	switch s {
	case StageQueued:
		return "queued"
	case StageExecuting:
		return "executing"
	case StageAttesting:
		return "attesting"
	case StageCommitted:
		return "committed"
	case StageAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// item tracks one in-flight block. span covers its whole Queued->Committed
// (or Aborted) lifetime, with a stage transition recorded as a span event
// each time setStage runs.
type item struct {
	block  *ctypes.BlockData
	stage  Stage
	result *ctypes.ExecutionResult
	span   trace.Span
}

// Attestor collects the 2f+1 attestations an ExecutionResult needs before it
// can be handed to Safety Rules as a commit candidate. In production this is
// the validator set's own signing+gossip round; in tests it can be a
// single-node stub that always attests immediately.
type Attestor interface {
	Attest(ctx context.Context, result *ctypes.ExecutionResult) (quorumReached bool, err error)
}

// Coordinator drives blocks through Execute -> Attest -> Commit, calling
// onCommit for each block in strict round order even though Execute/Attest
// for later rounds may finish first.
type Coordinator struct {
	exec     gcei.ExecutionLayer
	attestor Attestor
	onCommit func(round uint64, result *ctypes.ExecutionResult) error

	hashAlgo crypto.Hash
	tracer   trace.Tracer

	mu      sync.Mutex
	items   map[uint64]*item // round -> item
	nextFIFO uint64          // lowest round not yet committed
}

func New(exec gcei.ExecutionLayer, attestor Attestor, hashAlgo crypto.Hash, startRound uint64, onCommit func(uint64, *ctypes.ExecutionResult) error) *Coordinator {
	return &Coordinator{
		exec:     exec,
		attestor: attestor,
		onCommit: onCommit,
		hashAlgo: hashAlgo,
		tracer:   otel.Tracer("github.com/Galxe/gravity-sdk/pipeline"),
		items:    make(map[uint64]*item),
		nextFIFO: startRound,
	}
}

// Submit enqueues block for execution. Safe to call out of round order;
// commit notifications still fire FIFO.
func (c *Coordinator) Submit(ctx context.Context, block *ctypes.BlockData) error {
	c.mu.Lock()
	if _, exists := c.items[block.Round]; exists {
		c.mu.Unlock()
		return nil
	}
	ctx, span := c.tracer.Start(ctx, "pipeline.block", trace.WithAttributes(attribute.Int64("round", int64(block.Round))))
	it := &item{block: block, stage: StageQueued, span: span}
	c.items[block.Round] = it
	c.mu.Unlock()

	return c.runExecuteAttest(ctx, it)
}

func (c *Coordinator) runExecuteAttest(ctx context.Context, it *item) error {
	c.setStage(it, StageExecuting)
	if err := c.exec.RecvOrderedBlock(ctx, it.block); err != nil {
		if gcei.Retryable(err) {
			return fmt.Errorf("executing round %d (retryable): %w", it.block.Round, err)
		}
		c.setStage(it, StageAborted)
		it.span.RecordError(err)
		it.span.End()
		return fmt.Errorf("executing round %d: %w", it.block.Round, err)
	}

	blockID, err := it.block.Hash(c.hashAlgo)
	if err != nil {
		return fmt.Errorf("hashing block round %d: %w", it.block.Round, err)
	}
	compute, err := c.exec.SendExecutedBlockHash(ctx, blockID)
	if err != nil {
		return fmt.Errorf("fetching compute result for round %d: %w", it.block.Round, err)
	}

	result := &ctypes.ExecutionResult{
		BlockID:       compute.BlockID,
		BlockNumber:   it.block.Round,
		StateRootHash: compute.StateRootHash,
	}
	c.setStage(it, StageAttesting)
	quorum, err := c.attestor.Attest(ctx, result)
	if err != nil {
		return fmt.Errorf("attesting round %d: %w", it.block.Round, err)
	}
	if !quorum {
		return nil // more attestations still to arrive; caller re-drives via AttestationArrived
	}
	return c.finalize(ctx, it, result)
}

// AttestationArrived lets an external attestation-collection loop (the
// actual network fan-in) signal that round has now reached quorum, since
// Attestor.Attest above is a convenience for single-node/test callers.
func (c *Coordinator) AttestationArrived(ctx context.Context, round uint64, result *ctypes.ExecutionResult) error {
	c.mu.Lock()
	it, found := c.items[round]
	c.mu.Unlock()
	if !found {
		return fmt.Errorf("attestation for unknown round %d", round)
	}
	return c.finalize(ctx, it, result)
}

func (c *Coordinator) finalize(ctx context.Context, it *item, result *ctypes.ExecutionResult) error {
	it.result = result
	c.setStage(it, StageCommitted)
	if err := c.exec.CommitBlockInfo(ctx, result); err != nil {
		it.span.RecordError(err)
		it.span.End()
		return fmt.Errorf("committing block info for round %d: %w", it.block.Round, err)
	}
	it.span.End()
	return c.drainFIFO()
}

// drainFIFO delivers onCommit for every contiguous committed round starting
// at nextFIFO, so a fast-executing later round never gets reported before
// an earlier, still-in-flight one (spec §5's FIFO commit ordering).
func (c *Coordinator) drainFIFO() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		it, found := c.items[c.nextFIFO]
		if !found || it.stage != StageCommitted {
			return nil
		}
		if err := c.onCommit(c.nextFIFO, it.result); err != nil {
			return fmt.Errorf("commit callback for round %d: %w", c.nextFIFO, err)
		}
		delete(c.items, c.nextFIFO)
		c.nextFIFO++
	}
}

// Abandon marks the in-flight item of each listed round aborted, e.g.
// because the round was reorged away after a competing QC/TC. Rounds not
// listed, later ones included, are left as they are. Matches the teacher's
// BlockTree.RemoveLeaf semantics one level up the stack.
func (c *Coordinator) Abandon(rounds ...uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range rounds {
		if it, found := c.items[r]; found {
			it.stage = StageAborted
			it.span.End()
		}
	}
}

func (c *Coordinator) setStage(it *item, stage Stage) {
	c.mu.Lock()
	it.stage = stage
	c.mu.Unlock()
	it.span.AddEvent(stage.String())
}

// RunAll executes a batch of independently-ready blocks concurrently via
// errgroup. recovery.Startup does not use it: it replays through
// gcei.ExecutionLayer.RecoverOrderedBlock with its own errgroup.
func (c *Coordinator) RunAll(ctx context.Context, blocks []*ctypes.BlockData) error {
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Round < blocks[j].Round })
	g, ctx := errgroup.WithContext(ctx)
	for _, b := range blocks {
		b := b
		g.Go(func() error { return c.Submit(ctx, b) })
	}
	return g.Wait()
}
