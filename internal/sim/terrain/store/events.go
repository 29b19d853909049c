package store

type EventType string

const (
	EventRunStarted    EventType = "run_started"
	EventRunRestored   EventType = "run_restored"
	EventRunReset      EventType = "run_reset"
	EventChunkCreated  EventType = "chunk_created"
	EventChunkEvicted  EventType = "chunk_evicted"
	EventEntityRemoved EventType = "entity_removed"
)

// Event records one change to the stream window. It is the single shape fed
// to logs, the index and observers.
type Event struct {
	Seq   uint64    `json:"seq"`
	Type  EventType `json:"type"`
	RunID string    `json:"run_id"`
	Biome string    `json:"biome"`
	Chunk int       `json:"chunk"`

	Span       [2]float64   `json:"span,omitzero"`
	Slices     int          `json:"slices,omitempty"`
	Degenerate int          `json:"degenerate,omitempty"`
	Failed     int          `json:"failed,omitempty"`
	Entities   int          `json:"entities,omitempty"`
	Samples    [][2]float64 `json:"samples,omitempty"`
	// Restored marks chunk_created events replayed from a snapshot.
	Restored   bool         `json:"restored,omitempty"`

	Entity string     `json:"entity,omitempty"`
	Pos    [2]float64 `json:"pos,omitzero"`
	Seed   int64      `json:"seed,omitempty"`
}

type EventSink interface {
	Emit(ev Event)
}

type SinkFunc func(ev Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

type multiSink []EventSink

func (m multiSink) Emit(ev Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}

// Sinks fans events out to every non-nil sink in order.
func Sinks(sinks ...EventSink) EventSink {
	var out multiSink
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}
