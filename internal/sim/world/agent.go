package world

// Capabilities gating the cave command surface.
const (
	CapReload = "caves.reload"
)

// Agent is a connected caller. Embodied agents occupy a world position and
// may anchor cave placements; observers may only watch.
type Agent struct {
	ID   string
	Name string

	Embodied bool
	Pos      Vec3i

	Caps map[string]bool

	Out chan []byte
}

func (a *Agent) HasCapability(cap string) bool { return a.Caps[cap] }

// Anchor resolves the agent's placement anchor. The second return is false
// for observers, which have no position.
func (a *Agent) Anchor() (Vec3i, bool) {
	if !a.Embodied {
		return Vec3i{}, false
	}
	return a.Pos, true
}

// Send delivers an outbound frame without blocking the world loop. Frames to
// a slow consumer are dropped; the transport closes lagging sessions anyway.
func (a *Agent) Send(b []byte) {
	if a.Out == nil {
		return
	}
	select {
	case a.Out <- b:
	default:
	}
}
