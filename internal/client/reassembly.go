package client

import (
	"go.uber.org/zap"

	"framelink/internal/core/domain"
	"framelink/internal/wire"
	"framelink/pkg/timer"
)

// reassembler reconstructs chunked frames. Chunks may arrive in any
// order; placement is strictly by index. Each assembly carries its
// own deadline timer, and an independent periodic sweep deletes
// entries whose timer failed to fire, so memory stays bounded even
// under timer-scheduling drift.
//
// All methods run on the owning client's event loop; timer callbacks
// re-enter through post.
type reassembler struct {
	log   *zap.SugaredLogger
	sched timer.Scheduler
	post  func(func()) bool
	cfg   ReassemblyConfig

	deliver   func(encoded []byte, meta domain.FrameMetadata)
	telemetry *collector
	sendAck   func(wire.ChunkRef)

	entries    map[domain.FrameID]*assemblyEntry
	sweepTimer timer.Timer
	ackCounter int
}

type assemblyEntry struct {
	asm     *domain.FrameAssembly
	timeout timer.Timer
}

type reassemblerDeps struct {
	log       *zap.SugaredLogger
	sched     timer.Scheduler
	post      func(func()) bool
	cfg       ReassemblyConfig
	deliver   func([]byte, domain.FrameMetadata)
	telemetry *collector
	sendAck   func(wire.ChunkRef)
}

func newReassembler(deps reassemblerDeps) *reassembler {
	return &reassembler{
		log:       deps.log,
		sched:     deps.sched,
		post:      deps.post,
		cfg:       deps.cfg,
		deliver:   deps.deliver,
		telemetry: deps.telemetry,
		sendAck:   deps.sendAck,
		entries:   make(map[domain.FrameID]*assemblyEntry),
	}
}

// handleChunkedMeta opens a new assembly and arms its deadline.
func (r *reassembler) handleChunkedMeta(meta domain.FrameMetadata) {
	if old, ok := r.entries[meta.FrameID]; ok {
		// Frame ids are unique while in flight; a repeat means the
		// peer restarted the frame. Replace the stale assembly.
		r.telemetry.anomaly()
		r.log.Warnw("duplicate chunked metadata, replacing assembly", "frame_id", meta.FrameID)
		old.timeout.Stop()
		delete(r.entries, meta.FrameID)
	}

	id := meta.FrameID
	entry := &assemblyEntry{
		asm: domain.NewFrameAssembly(meta, r.sched.Now()),
	}
	entry.timeout = r.sched.Schedule(r.cfg.ChunkWaitTime, func() {
		r.post(func() { r.timeoutFrame(id) })
	})
	r.entries[id] = entry

	r.log.Debugw("assembly opened",
		"frame_id", id, "total_chunks", meta.TotalChunks, "total_size", meta.TotalSize)
	r.ensureSweep()
}

// handleChunkPayload stores one chunk and completes the frame when
// the last distinct index lands.
func (r *reassembler) handleChunkPayload(ref wire.ChunkRef, data []byte) {
	entry, ok := r.entries[ref.FrameID]
	if !ok {
		// Chunk for an unknown or expired frame. Not an error: the
		// assembly may have timed out while chunks were in flight.
		r.log.Warnw("chunk for unknown frame, discarding",
			"frame_id", ref.FrameID, "chunk_index", ref.ChunkIndex)
		return
	}

	first, err := entry.asm.AddChunk(ref.ChunkIndex, data)
	if err != nil {
		r.telemetry.anomaly()
		r.log.Warnw("chunk rejected", "frame_id", ref.FrameID, "error", err)
		return
	}
	if first {
		r.telemetry.chunkReceived()
	} else {
		r.telemetry.anomaly()
		r.log.Warnw("duplicate chunk index overwritten",
			"frame_id", ref.FrameID, "chunk_index", ref.ChunkIndex)
	}

	// Best-effort debugging signal only: acks never gate completion
	// and there is no retransmission in this protocol.
	r.ackCounter++
	if r.ackCounter%r.cfg.AckSampleEvery == 0 {
		r.sendAck(ref)
	}

	if entry.asm.Complete() {
		r.completeFrame(ref.FrameID, entry)
	}
}

func (r *reassembler) completeFrame(id domain.FrameID, entry *assemblyEntry) {
	entry.timeout.Stop()
	delete(r.entries, id)

	encoded, err := entry.asm.Assemble()
	if err != nil {
		// An index vanished between the completion check and
		// concatenation. Account for it like a timeout.
		missing := entry.asm.Meta.TotalChunks - entry.asm.Received()
		if missing < 1 {
			missing = 1
		}
		r.telemetry.chunksLost(missing)
		r.log.Warnw("assembly failed at concatenation", "frame_id", id, "error", err)
		return
	}

	r.log.Debugw("frame assembled",
		"frame_id", id, "chunks", entry.asm.Meta.TotalChunks, "encoded_size", len(encoded))
	r.deliver(encoded, entry.asm.Meta)
}

// timeoutFrame fires when an assembly's deadline passes before all
// chunks arrived. Idempotent: completed or cancelled frames are gone
// from the map by then.
func (r *reassembler) timeoutFrame(id domain.FrameID) {
	entry, ok := r.entries[id]
	if !ok {
		return
	}
	delete(r.entries, id)

	missing := entry.asm.Meta.TotalChunks - entry.asm.Received()
	r.telemetry.chunksLost(missing)
	r.log.Warnw("frame timed out, discarding",
		"frame_id", id,
		"received", entry.asm.Received(),
		"total", entry.asm.Meta.TotalChunks)
}

// ensureSweep keeps the periodic safety-net sweep armed while any
// assembly is pending.
func (r *reassembler) ensureSweep() {
	if r.sweepTimer != nil || len(r.entries) == 0 {
		return
	}
	r.sweepTimer = r.sched.Schedule(r.cfg.SweepInterval, func() {
		r.post(func() {
			r.sweepTimer = nil
			r.sweepNow()
			r.ensureSweep()
		})
	})
}

// sweepNow deletes assemblies older than the maximum pending age.
// This catches entries whose per-frame timer was lost; normally the
// deadline fires long before an entry gets this old.
func (r *reassembler) sweepNow() {
	now := r.sched.Now()
	for id, entry := range r.entries {
		if now.Sub(entry.asm.ArrivedAt) < r.cfg.MaxPendingAge {
			continue
		}
		entry.timeout.Stop()
		delete(r.entries, id)
		missing := entry.asm.Meta.TotalChunks - entry.asm.Received()
		r.telemetry.chunksLost(missing)
		r.log.Warnw("stale assembly swept",
			"frame_id", id,
			"age", now.Sub(entry.asm.ArrivedAt),
			"received", entry.asm.Received())
	}
}

// cancelAll clears every pending assembly without loss accounting.
// Used on stream stop and disconnect.
func (r *reassembler) cancelAll() {
	for id, entry := range r.entries {
		entry.timeout.Stop()
		delete(r.entries, id)
	}
	if r.sweepTimer != nil {
		r.sweepTimer.Stop()
		r.sweepTimer = nil
	}
	r.ackCounter = 0
}

// pendingCount reports how many assemblies are in flight.
func (r *reassembler) pendingCount() int {
	return len(r.entries)
}
