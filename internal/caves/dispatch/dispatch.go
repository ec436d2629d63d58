// Package dispatch maps cave commands onto the repository, the orchestrator
// and the placement engine, enforcing capability checks. All handlers run on
// the world loop.
package dispatch

import (
	"encoding/json"
	"errors"
	"log"
	"strconv"

	"cavecraft.ai/internal/caves/carve"
	"cavecraft.ai/internal/caves/genjob"
	"cavecraft.ai/internal/caves/samples"
	"cavecraft.ai/internal/protocol"
	"cavecraft.ai/internal/sim/world"
)

// LibraryIndex records reload outcomes. May be nil.
type LibraryIndex interface {
	RecordLibraryLoad(sources, loaded int)
}

type Dispatcher struct {
	World      *world.World
	Repo       *samples.Repository
	Engine     carve.Engine
	Gen        *genjob.Runner
	Log        *log.Logger
	LibraryDir string
	Index      LibraryIndex
}

// HandleCmd routes one command for the given agent. Must run on the world
// loop.
func (d *Dispatcher) HandleCmd(agentID string, op string) {
	a, ok := d.World.AgentByID(agentID)
	if !ok {
		return
	}
	switch op {
	case protocol.OpReload:
		d.reload(a)
	case protocol.OpNew:
		d.generateNew(a)
	case protocol.OpRandom:
		d.generateRandom(a)
	default:
		d.sendMsg(a, "error", "Unknown cave command: "+op)
	}
}

func (d *Dispatcher) reload(a *world.Agent) {
	if !a.HasCapability(world.CapReload) {
		d.sendMsg(a, "error", "You don't have permission to reload caves.")
		return
	}
	sources := samples.DirSources(d.LibraryDir)
	n := d.Repo.Load(sources)
	if d.Index != nil {
		d.Index.RecordLibraryLoad(len(sources), n)
	}
	if n == 0 {
		d.sendMsg(a, "error", "Reloaded caves, but no samples were found. Check the library files.")
		return
	}
	d.sendMsg(a, "info", "Reloaded "+strconv.Itoa(n)+" cave samples.")
}

func (d *Dispatcher) generateRandom(a *world.Agent) {
	anchor, ok := a.Anchor()
	if !ok {
		d.sendMsg(a, "error", "Only embodied callers may generate caves.")
		return
	}
	cs, ok := d.Repo.PickRandom()
	if !ok {
		d.sendMsg(a, "error", "No pregenerated cave samples loaded. Reload or add library files.")
		return
	}
	res := d.Engine.Place(d.World, anchor, cs)
	d.Log.Printf("placed cave sample %d at %+v: %d cleared, %d clipped, %d refused",
		cs.SampleID, anchor, res.Placed, res.Clipped, res.Refused)
	d.sendMsg(a, "info", "Cave generated!")
	d.sendObs(a)
}

func (d *Dispatcher) generateNew(a *world.Agent) {
	anchor, ok := a.Anchor()
	if !ok {
		d.sendMsg(a, "error", "Only embodied callers may generate caves.")
		return
	}
	d.sendMsg(a, "info", "Generating a new AI cave, please wait...")

	agentID := a.ID
	_, err := d.Gen.Start(anchor, genjob.Handlers{
		OnSuccess: func(cs samples.CaveSample) genjob.Placement {
			res := d.Engine.Place(d.World, anchor, cs)
			d.Log.Printf("placed generated cave sample %d at %+v: %d cleared, %d clipped, %d refused",
				cs.SampleID, anchor, res.Placed, res.Clipped, res.Refused)
			// The caller may have disconnected while the generator ran.
			if a, ok := d.World.AgentByID(agentID); ok {
				d.sendMsg(a, "info", "New AI cave generated!")
				d.sendObs(a)
			}
			return genjob.Placement{Placed: res.Placed, Clipped: res.Clipped, Refused: res.Refused}
		},
		OnFailure: func(reason genjob.FailReason) {
			if a, ok := d.World.AgentByID(agentID); ok {
				d.sendMsg(a, "error", failureText(reason))
			}
		},
	})
	switch {
	case errors.Is(err, genjob.ErrMissingGenerator):
		d.sendMsg(a, "error", "Cave generator not found. Check server configuration.")
	case errors.Is(err, genjob.ErrMissingWeights):
		d.sendMsg(a, "error", "Generator weights not found. Check server configuration.")
	case err != nil:
		d.sendMsg(a, "error", "Could not start cave generation. Check server logs.")
	}
}

func failureText(reason genjob.FailReason) string {
	switch reason {
	case genjob.FailProcessExit:
		return "Failed to generate cave (generator error). Check server logs."
	case genjob.FailMissingOutput:
		return "Failed to generate cave: no output file was produced."
	case genjob.FailDecode:
		return "Failed to read generated cave data."
	default:
		return "Cave generation failed. Check server logs."
	}
}

func (d *Dispatcher) sendMsg(a *world.Agent, level, text string) {
	b, err := json.Marshal(protocol.MsgMsg{Type: protocol.TypeMsg, Level: level, Text: text})
	if err != nil {
		return
	}
	a.Send(b)
}

func (d *Dispatcher) sendObs(a *world.Agent) {
	if !a.Embodied {
		return
	}
	r := d.World.Config().ObsRadius
	obs := protocol.ObsMsg{
		Type: protocol.TypeObs,
		Tick: d.World.CurrentTick(),
		Pos:  [3]int{a.Pos.X, a.Pos.Y, a.Pos.Z},
		Terrain: protocol.TerrainPatch{
			Center:    [3]int{a.Pos.X, a.Pos.Y, a.Pos.Z},
			Radius:    r,
			VoxelsRLE: d.World.TerrainPatchRLE(a.Pos, r),
		},
	}
	b, err := json.Marshal(obs)
	if err != nil {
		return
	}
	a.Send(b)
}
