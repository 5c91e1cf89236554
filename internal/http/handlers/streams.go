package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/jmylchreest/dvrstreamd/internal/dvrclient"
)

// StreamRegistry tracks the dvrclient.Stream instances currently open under
// the debug/inspection API, keyed by an opaque ID assigned at open time.
// It does not own stream lifetime; callers remain responsible for Close.
type StreamRegistry struct {
	mu      sync.RWMutex
	streams map[string]*dvrclient.Stream
}

// NewStreamRegistry creates an empty registry.
func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{streams: make(map[string]*dvrclient.Stream)}
}

// Register adds a stream under the given ID, replacing any prior entry.
func (r *StreamRegistry) Register(id string, s *dvrclient.Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[id] = s
}

// Unregister removes a stream from the registry.
func (r *StreamRegistry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, id)
}

// Get returns the stream registered under id, if any.
func (r *StreamRegistry) Get(id string) (*dvrclient.Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[id]
	return s, ok
}

// Count returns the number of currently registered streams.
func (r *StreamRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

// Snapshot returns a shallow copy of the registry's current contents,
// satisfying internal/metrics.Snapshotter.
func (r *StreamRegistry) Snapshot() map[string]*dvrclient.Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*dvrclient.Stream, len(r.streams))
	for id, s := range r.streams {
		out[id] = s
	}
	return out
}

// StreamsHandler exposes read-only snapshots of open streams for debugging.
type StreamsHandler struct {
	registry *StreamRegistry
}

// NewStreamsHandler creates a new streams handler over the given registry.
func NewStreamsHandler(registry *StreamRegistry) *StreamsHandler {
	return &StreamsHandler{registry: registry}
}

// StreamSnapshotInput identifies which registered stream to inspect.
type StreamSnapshotInput struct {
	ID string `path:"id"`
}

// StreamSnapshotOutput is the output of the stream snapshot endpoint.
type StreamSnapshotOutput struct {
	Body StreamSnapshot
}

// StreamSnapshot reports a Stream's public observable state, mirroring the
// Stream Controller's accessor surface (position, length, real-time,
// seekability, wall-clock timestamps, discovered PMT PIDs, and buffer
// occupancy) without exposing any mutation capability.
type StreamSnapshot struct {
	ID              string   `json:"id"`
	Position        int64    `json:"position"`
	Length          int64    `json:"length"`
	RealTime        bool     `json:"real_time"`
	CanSeek         bool     `json:"can_seek"`
	StartTime       string   `json:"start_time,omitempty"`
	CurrentTime     string   `json:"current_time,omitempty"`
	PMTPIDs         []uint16 `json:"pmt_pids,omitempty"`
	BufferOccupancy int      `json:"buffer_occupancy"`
}

// Register registers the streams routes with the API.
func (h *StreamsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getStreamSnapshot",
		Method:      "GET",
		Path:        "/streams/{id}",
		Summary:     "Stream snapshot",
		Description: "Returns a read-only snapshot of an open stream's position, length, and timing state",
		Tags:        []string{"Streams"},
	}, h.GetSnapshot)
}

// GetSnapshot returns a point-in-time snapshot of a registered stream.
func (h *StreamsHandler) GetSnapshot(ctx context.Context, input *StreamSnapshotInput) (*StreamSnapshotOutput, error) {
	s, ok := h.registry.Get(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("no stream registered under id " + input.ID)
	}

	snap := StreamSnapshot{
		ID:              input.ID,
		Position:        s.Position(),
		Length:          s.Length(),
		RealTime:        s.RealTime(),
		CanSeek:         s.CanSeek(),
		PMTPIDs:         s.PMTPIDs(),
		BufferOccupancy: s.BufferOccupancy(),
	}
	if start := s.StartTime(); !start.IsZero() {
		snap.StartTime = start.UTC().Format(time.RFC3339)
	}
	if cur := s.CurrentTime(); !cur.IsZero() {
		snap.CurrentTime = cur.UTC().Format(time.RFC3339)
	}

	return &StreamSnapshotOutput{Body: snap}, nil
}
