package world

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

type WorldConfig struct {
	ID         string
	Seed       int64
	TickRateHz int

	// Inclusive vertical bounds for block mutation.
	MinY int
	MaxY int

	// Y level terrain generation builds up to.
	SurfaceY int

	// Horizontal boundary in blocks from the origin (0 = unbounded).
	BoundaryR int

	// Radius of the terrain patch sent to callers.
	ObsRadius int
}

type JoinRequest struct {
	Name string
	// Observers have no position in the world and cannot anchor a placement.
	Observer bool
	// Grants the caves.reload capability when true.
	Admin bool
	Out   chan []byte
	Resp  chan JoinResponse
}

type JoinResponse struct {
	AgentID string
	Spawn   Vec3i
	// RLE terrain layer around the spawn, empty for observers.
	TerrainRLE string
}

// World is the single-threaded authoritative owner of block state.
// All state must be accessed only from the world loop goroutine (Run), or
// through StepOnce in tests.
type World struct {
	cfg WorldConfig

	tick atomic.Uint64

	chunks *ChunkStore
	agents map[string]*Agent

	join  chan JoinRequest
	leave chan string
	sched chan func()
	stop  chan struct{}

	nextAgentNum atomic.Uint64
}

func New(cfg WorldConfig) (*World, error) {
	if cfg.TickRateHz <= 0 {
		return nil, fmt.Errorf("world %q: tick rate must be positive", cfg.ID)
	}
	if cfg.MinY >= cfg.MaxY {
		return nil, fmt.Errorf("world %q: min height %d must be below max height %d", cfg.ID, cfg.MinY, cfg.MaxY)
	}
	w := &World{
		cfg: cfg,
		chunks: NewChunkStore(WorldGen{
			Seed:      cfg.Seed,
			MinY:      cfg.MinY,
			MaxY:      cfg.MaxY,
			SurfaceY:  cfg.SurfaceY,
			BoundaryR: cfg.BoundaryR,
		}),
		agents: map[string]*Agent{},
		join:   make(chan JoinRequest, 16),
		leave:  make(chan string, 16),
		sched:  make(chan func(), 256),
		stop:   make(chan struct{}),
	}
	return w, nil
}

func (w *World) Config() WorldConfig { return w.cfg }
func (w *World) CurrentTick() uint64 { return w.tick.Load() }

func (w *World) MinHeight() int { return w.cfg.MinY }
func (w *World) MaxHeight() int { return w.cfg.MaxY }

// Join and Leave are the transport-facing channels.
func (w *World) Join() chan<- JoinRequest { return w.join }
func (w *World) Leave() chan<- string     { return w.leave }

// Schedule queues fn onto the world loop. It is the only safe way for other
// goroutines to touch world state; fn runs to completion before the next
// scheduled task or tick.
func (w *World) Schedule(fn func()) {
	select {
	case w.sched <- fn:
	case <-w.stop:
	}
}

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.join:
			w.handleJoin(req)
		case id := <-w.leave:
			w.handleLeave(id)
		case fn := <-w.sched:
			fn()
		case <-ticker.C:
			w.step()
		}
	}
}

func (w *World) Stop() { close(w.stop) }

func (w *World) step() {
	w.tick.Add(1)
}

// StepOnce drives the loop synchronously for black-box tests: joins and
// leaves are applied, each task runs to completion, then one tick elapses.
func (w *World) StepOnce(joins []JoinRequest, leaves []string, tasks []func()) uint64 {
	for _, req := range joins {
		w.handleJoin(req)
	}
	for _, id := range leaves {
		w.handleLeave(id)
	}
	for _, fn := range tasks {
		fn()
	}
	w.step()
	return w.tick.Load()
}

// DrainScheduled runs tasks queued via Schedule until none remain. Test-only
// companion to StepOnce for exercising async handoff without a live loop.
func (w *World) DrainScheduled() int {
	n := 0
	for {
		select {
		case fn := <-w.sched:
			fn()
			n++
		default:
			return n
		}
	}
}

func (w *World) handleJoin(req JoinRequest) {
	id := fmt.Sprintf("A%d", w.nextAgentNum.Add(1))
	a := &Agent{
		ID:       id,
		Name:     req.Name,
		Embodied: !req.Observer,
		Caps:     map[string]bool{},
		Out:      req.Out,
	}
	if req.Admin {
		a.Caps[CapReload] = true
	}
	if a.Embodied {
		a.Pos = w.spawnPos()
	}
	w.agents[id] = a
	resp := JoinResponse{AgentID: id, Spawn: a.Pos}
	if a.Embodied {
		resp.TerrainRLE = w.TerrainPatchRLE(a.Pos, w.cfg.ObsRadius)
	}
	if req.Resp != nil {
		req.Resp <- resp
	}
}

func (w *World) handleLeave(agentID string) {
	delete(w.agents, agentID)
}

func (w *World) AgentByID(id string) (*Agent, bool) {
	a, ok := w.agents[id]
	return a, ok
}

// spawnPos puts new agents on top of the terrain at the origin.
func (w *World) spawnPos() Vec3i {
	x, z := 0, 0
	y := w.chunks.SurfaceAt(x, z) + 1
	if y > w.cfg.MaxY {
		y = w.cfg.MaxY
	}
	return Vec3i{X: x, Y: y, Z: z}
}

func (w *World) GetBlock(pos Vec3i) uint16 { return w.chunks.GetBlock(pos) }

// ClearBlock sets the cell to air. The return value reports whether the cell
// was inside the mutable horizontal bounds; vertical bounds are the caller's
// concern (see MinHeight/MaxHeight).
func (w *World) ClearBlock(pos Vec3i) bool {
	return w.chunks.SetBlock(pos, Air)
}
