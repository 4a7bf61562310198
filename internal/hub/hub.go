// Package hub owns the shared state module: the six independently-guarded
// mailboxes that mediate the mapping controller, the BLE supervisor, the
// DSP stage, and the sink stage. No package-level globals — a Hub is
// constructed once in cmd/patchstation and passed by reference to every
// stage, resolving the "global mutable state" redesign flag.
package hub

import (
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/patchstation/internal/model"
)

// DefaultUnprocessedCapacity sizes the per-patch raw-sample ring buffer.
// At ~100Hz across six characteristics this comfortably covers a few
// seconds of notifications between DSP ticks.
const DefaultUnprocessedCapacity = 8192

// Hub is the process-wide shared state module. All fields are guarded
// independently; the only site that acquires two guards together is the
// mapping controller's connect flow, which always locks PatientMapping
// before Intents (see ConnectPatient).
type Hub struct {
	intentsMu sync.Mutex
	intents   *orderedmap.OrderedMap[model.PatchID, model.Intent]

	mappingMu sync.Mutex
	mapping   *orderedmap.OrderedMap[model.PatchID, model.PatientID]

	smartPatchConfig atomic.Uint32

	connected *hashmap.Map[model.PatchID, model.FirmwareVersion]

	unprocessedMu sync.Mutex
	unprocessed   map[model.PatchID]mpmc.RichOverlappedRingBuffer[model.RawSample]

	processedMu sync.Mutex
	processed   map[model.PatchID][]model.Datapoint

	rawTapEnabled atomic.Bool
	rawTapMu      sync.Mutex
	rawTap        map[model.PatchID]mpmc.RichOverlappedRingBuffer[model.RawSample]
}

// New constructs an empty Hub ready for use by every stage.
func New() *Hub {
	return &Hub{
		intents:     orderedmap.New[model.PatchID, model.Intent](),
		mapping:     orderedmap.New[model.PatchID, model.PatientID](),
		connected:   hashmap.New[model.PatchID, model.FirmwareVersion](),
		unprocessed: make(map[model.PatchID]mpmc.RichOverlappedRingBuffer[model.RawSample]),
		processed:   make(map[model.PatchID][]model.Datapoint),
		rawTap:      make(map[model.PatchID]mpmc.RichOverlappedRingBuffer[model.RawSample]),
	}
}

// --- Intents -----------------------------------------------------------

// SetIntent records a pending connect/disconnect request for a patch,
// overwriting any existing pending intent for the same patch.
func (h *Hub) SetIntent(id model.PatchID, intent model.Intent) {
	h.intentsMu.Lock()
	defer h.intentsMu.Unlock()
	h.intents.Set(id, intent)
}

// TakeAnyConnectIntent atomically removes and returns an arbitrary pending
// Connect intent, in insertion order. The second return value is false if
// no Connect intent is pending — matching the worker's "None means nothing
// to do" poll semantics from spec §4.3.
func (h *Hub) TakeAnyConnectIntent() (model.PatchID, bool) {
	h.intentsMu.Lock()
	defer h.intentsMu.Unlock()
	for pair := h.intents.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Kind == model.Connect {
			h.intents.Delete(pair.Key)
			return pair.Key, true
		}
	}
	return "", false
}

// HasDisconnectIntent reports whether a Disconnect intent is pending for
// id, used by a Streaming worker's per-second housekeeping check.
func (h *Hub) HasDisconnectIntent(id model.PatchID) bool {
	h.intentsMu.Lock()
	defer h.intentsMu.Unlock()
	intent, ok := h.intents.Get(id)
	return ok && intent.Kind == model.Disconnect
}

// ClearIntent removes any pending intent for id unconditionally.
func (h *Hub) ClearIntent(id model.PatchID) {
	h.intentsMu.Lock()
	defer h.intentsMu.Unlock()
	h.intents.Delete(id)
}

// StaleDisconnectIntents returns patch ids with a pending Disconnect intent
// that are not in the connected set — the janitor's 30s sweep target.
func (h *Hub) StaleDisconnectIntents() []model.PatchID {
	h.intentsMu.Lock()
	defer h.intentsMu.Unlock()

	var stale []model.PatchID
	for pair := h.intents.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Kind != model.Disconnect {
			continue
		}
		if _, connected := h.connected.Get(pair.Key); !connected {
			stale = append(stale, pair.Key)
		}
	}
	return stale
}

// --- Patient mapping -----------------------------------------------------

// ConnectPatient implements spec §4.2's connect event flow: evicts every
// existing patch bound to patient (emitting a Disconnect intent for each),
// then binds patch to patient and emits a Connect intent. Locks
// PatientMapping before Intents, the fixed order required to avoid
// deadlock with any other joint-lock caller.
func (h *Hub) ConnectPatient(patient model.PatientID, patch model.PatchID) (evicted []model.PatchID) {
	h.mappingMu.Lock()
	defer h.mappingMu.Unlock()
	h.intentsMu.Lock()
	defer h.intentsMu.Unlock()

	for pair := h.mapping.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value == patient && pair.Key != patch {
			evicted = append(evicted, pair.Key)
		}
	}
	for _, old := range evicted {
		h.mapping.Delete(old)
		h.intents.Set(old, model.Intent{Kind: model.Disconnect})
	}

	h.mapping.Set(patch, patient)
	h.intents.Set(patch, model.Intent{Kind: model.Connect})
	return evicted
}

// DisconnectPatch implements spec §4.2's Disconnected handler: removes the
// patch's mapping entry unconditionally, and unless alreadyDisconnected
// (the control plane's "disconnected" sentinel value), posts a Disconnect
// intent too.
func (h *Hub) DisconnectPatch(patch model.PatchID, alreadyDisconnected bool) {
	h.mappingMu.Lock()
	h.mapping.Delete(patch)
	h.mappingMu.Unlock()

	if alreadyDisconnected {
		return
	}
	h.intentsMu.Lock()
	defer h.intentsMu.Unlock()
	h.intents.Set(patch, model.Intent{Kind: model.Disconnect})
}

// SeedMapping sets a PatientMapping entry during the initial startup fetch
// without touching any existing eviction logic — used once before any
// connect/disconnect traffic has been observed.
func (h *Hub) SeedMapping(patch model.PatchID, patient model.PatientID) {
	h.mappingMu.Lock()
	defer h.mappingMu.Unlock()
	h.mapping.Set(patch, patient)
}

// PatientFor returns the patient bound to patch, if any.
func (h *Hub) PatientFor(patch model.PatchID) (model.PatientID, bool) {
	h.mappingMu.Lock()
	defer h.mappingMu.Unlock()
	return h.mapping.Get(patch)
}

// MappingSize reports the number of bound patches; used by startup gating.
func (h *Hub) MappingSize() int {
	h.mappingMu.Lock()
	defer h.mappingMu.Unlock()
	return h.mapping.Len()
}

// --- SmartPatchConfig ----------------------------------------------------

// SetPendingConfig publishes a new pending config byte. 0 is the sentinel
// for "no pending change" (spec §3 invariant 4).
func (h *Hub) SetPendingConfig(b byte) {
	h.smartPatchConfig.Store(uint32(b))
}

// PendingConfig returns the current pending config byte.
func (h *Hub) PendingConfig() byte {
	return byte(h.smartPatchConfig.Load())
}

// ClearPendingConfig resets the pending config byte to the 0 sentinel, but
// only if it still equals expected, so a given value is cleared at most
// once. Workers call it when their own config window elapses: the first
// worker to get there clears the value, and workers whose window is still
// open stop pushing it from their next housekeeping tick.
func (h *Hub) ClearPendingConfig(expected byte) {
	h.smartPatchConfig.CompareAndSwap(uint32(expected), 0)
}

// --- Connected devices ---------------------------------------------------

// MarkConnected records a patch's firmware version once its connect
// handshake completes.
func (h *Hub) MarkConnected(patch model.PatchID, fw model.FirmwareVersion) {
	h.connected.Set(patch, fw)
}

// MarkDisconnected removes a patch from the connected set.
func (h *Hub) MarkDisconnected(patch model.PatchID) {
	h.connected.Del(patch)
}

// FirmwareVersion returns the firmware version of a connected patch.
func (h *Hub) FirmwareVersion(patch model.PatchID) (model.FirmwareVersion, bool) {
	return h.connected.Get(patch)
}

// IsConnected reports whether patch currently has an open connection.
func (h *Hub) IsConnected(patch model.PatchID) bool {
	_, ok := h.connected.Get(patch)
	return ok
}

// --- Unprocessed (raw sample) mailbox ------------------------------------

func (h *Hub) ringFor(patch model.PatchID) mpmc.RichOverlappedRingBuffer[model.RawSample] {
	h.unprocessedMu.Lock()
	defer h.unprocessedMu.Unlock()
	ring, ok := h.unprocessed[patch]
	if !ok {
		ring = mpmc.NewOverlappedRingBuffer[model.RawSample](DefaultUnprocessedCapacity)
		h.unprocessed[patch] = ring
	}
	return ring
}

// AppendRaw enqueues one decoded sample for patch. Called from a BLE
// worker's notification callback; never holds the structural map lock
// across the enqueue itself. When raw passthrough is enabled
// (EnableRawTap), the sample is fanned out to a second ring buffer the raw
// sink drains independently — this is the chosen resolution of spec
// §4.5's documented "reads but does not clear" duplication hazard: instead
// of racing two readers against one ring, each reader gets its own ring
// fed from the same notification, so duplication is explicit and bounded
// rather than a data race.
func (h *Hub) AppendRaw(patch model.PatchID, sample model.RawSample) {
	ring := h.ringFor(patch)
	_, _ = ring.EnqueueM(sample)

	if h.rawTapEnabled.Load() {
		tap := h.rawTapFor(patch)
		_, _ = tap.EnqueueM(sample)
	}
}

// EnableRawTap turns on the raw-sink fan-out. Call once at startup if
// saveRawData is configured.
func (h *Hub) EnableRawTap() {
	h.rawTapEnabled.Store(true)
}

func (h *Hub) rawTapFor(patch model.PatchID) mpmc.RichOverlappedRingBuffer[model.RawSample] {
	h.rawTapMu.Lock()
	defer h.rawTapMu.Unlock()
	ring, ok := h.rawTap[patch]
	if !ok {
		ring = mpmc.NewOverlappedRingBuffer[model.RawSample](DefaultUnprocessedCapacity)
		h.rawTap[patch] = ring
	}
	return ring
}

// DrainRawTap dequeues every pending sample from patch's raw-tap buffer.
func (h *Hub) DrainRawTap(patch model.PatchID) []model.RawSample {
	ring := h.rawTapFor(patch)
	var out []model.RawSample
	for !ring.IsEmpty() {
		sample, err := ring.Dequeue()
		if err != nil {
			break
		}
		out = append(out, sample)
	}
	return out
}

// DrainRaw dequeues every pending sample for patch, in FIFO order, leaving
// the ring buffer empty — satisfying invariant 1 ("drains atomically and
// resets"). Returns nil if the patch has never produced a sample.
func (h *Hub) DrainRaw(patch model.PatchID) []model.RawSample {
	ring := h.ringFor(patch)
	var out []model.RawSample
	for !ring.IsEmpty() {
		sample, err := ring.Dequeue()
		if err != nil {
			break
		}
		out = append(out, sample)
	}
	return out
}

// RawPatchIDs returns every patch id that has ever produced a raw sample,
// used by the DSP and raw-sink stages to enumerate work each tick.
func (h *Hub) RawPatchIDs() []model.PatchID {
	h.unprocessedMu.Lock()
	defer h.unprocessedMu.Unlock()
	ids := make([]model.PatchID, 0, len(h.unprocessed))
	for id := range h.unprocessed {
		ids = append(ids, id)
	}
	return ids
}

// --- Processed mailbox ----------------------------------------------------

// AppendProcessed appends one Datapoint for patch to the processed
// mailbox.
func (h *Hub) AppendProcessed(patch model.PatchID, dp model.Datapoint) {
	h.processedMu.Lock()
	defer h.processedMu.Unlock()
	h.processed[patch] = append(h.processed[patch], dp)
}

// DrainProcessed atomically swaps out the entire processed mailbox and
// returns it, resetting the mailbox to empty.
func (h *Hub) DrainProcessed() map[model.PatchID][]model.Datapoint {
	h.processedMu.Lock()
	defer h.processedMu.Unlock()
	if len(h.processed) == 0 {
		return nil
	}
	out := h.processed
	h.processed = make(map[model.PatchID][]model.Datapoint)
	return out
}

// ProcessedEmpty reports whether the processed mailbox currently has no
// pending datapoints, used by the sink stage's 50ms poll.
func (h *Hub) ProcessedEmpty() bool {
	h.processedMu.Lock()
	defer h.processedMu.Unlock()
	return len(h.processed) == 0
}
