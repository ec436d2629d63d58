package protocol

// HelloMsg opens a session. Observers get no body in the world and cannot
// anchor cave placements. A valid admin token grants the reload capability.
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Name            string `json:"name"`
	Observer        bool   `json:"observer,omitempty"`
	AdminToken      string `json:"admin_token,omitempty"`
}

type WorldParams struct {
	TickRateHz int   `json:"tick_rate_hz"`
	MinHeight  int   `json:"min_height"`
	MaxHeight  int   `json:"max_height"`
	ObsRadius  int   `json:"obs_radius"`
	Seed       int64 `json:"seed"`
}

// TerrainPatch is one horizontal block layer around a center position,
// (2*radius+1)^2 cells RLE-encoded, x fastest then z.
type TerrainPatch struct {
	Center    [3]int `json:"center"`
	Radius    int    `json:"radius"`
	VoxelsRLE string `json:"voxels_rle"`
}

type WelcomeMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	AgentID         string       `json:"agent_id"`
	WorldParams     WorldParams  `json:"world_params"`
	Spawn           [3]int       `json:"spawn"`
	Terrain         TerrainPatch `json:"terrain"`
}

// CmdMsg is a cave command: reload, new, or random.
type CmdMsg struct {
	Type string `json:"type"`
	Op   string `json:"op"`
}

// MsgMsg carries a user-facing notification.
type MsgMsg struct {
	Type  string `json:"type"`
	Level string `json:"level"` // "info" or "error"
	Text  string `json:"text"`
}

// ObsMsg is pushed after a placement touches the area around an agent.
type ObsMsg struct {
	Type    string       `json:"type"`
	Tick    uint64       `json:"tick"`
	Pos     [3]int       `json:"pos"`
	Terrain TerrainPatch `json:"terrain"`
}
