package observerproto

// Version is the observer protocol version.
const Version = "0.1"

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Samples asks for the surface samples of every created chunk.
	Samples bool `json:"samples"`
	// TickEvery thins TICK messages to one every n ticks.
	TickEvery int `json:"tick_every,omitempty"`
}

// HTTP response for GET /v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string        `json:"protocol_version"`
	RunID           string        `json:"run_id"`
	Biome           string        `json:"biome"`
	Tick            uint64        `json:"tick"`
	Params          TerrainParams `json:"params"`
	Agent           AgentState    `json:"agent"`
	Chunks          []ChunkState  `json:"chunks"`
}

type TerrainParams struct {
	TickRateHz int     `json:"tick_rate_hz"`
	ChunkWidth float64 `json:"chunk_width"`
	Steps      int     `json:"steps"`
	Baseline   float64 `json:"baseline"`
	Bottom     float64 `json:"bottom"`
	Lookahead  int     `json:"lookahead"`
	Retention  int     `json:"retention"`
	Gravity    float64 `json:"gravity"`
}

type ChunkState struct {
	Index    int           `json:"index"`
	Span     [2]float64    `json:"span"`
	Samples  [][2]float64  `json:"samples"`
	Slices   int           `json:"slices"`
	Failed   int           `json:"failed,omitempty"`
	Entities []EntityState `json:"entities,omitempty"`
}

type EntityState struct {
	ID    uint64     `json:"id"`
	Label string     `json:"label"`
	Pos   [2]float64 `json:"pos"`
}

type AgentState struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Fuel     float64 `json:"fuel"`
	Coins    int     `json:"coins"`
	Distance float64 `json:"distance"`
	Over     bool    `json:"over,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

// Server -> Client. Sent every tick (or every TickEvery ticks).
type TickMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Tick            uint64     `json:"tick"`
	RunID           string     `json:"run_id"`
	Agent           AgentState `json:"agent"`
	Resident        []int      `json:"resident"`
}

// Server -> Client. One per terrain stream event, in event order.
type TerrainMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Seq             uint64 `json:"seq"`
	Event           string `json:"event"`
	RunID           string `json:"run_id"`
	Biome           string `json:"biome"`
	Chunk           int    `json:"chunk"`

	Span     [2]float64   `json:"span,omitzero"`
	Slices   int          `json:"slices,omitempty"`
	Failed   int          `json:"failed,omitempty"`
	Entities int          `json:"entities,omitempty"`
	Samples  [][2]float64 `json:"samples,omitempty"`

	Entity string     `json:"entity,omitempty"`
	Pos    [2]float64 `json:"pos,omitzero"`
}
