// Package genjob runs one asynchronous invocation of the external cave
// generator: spawn the process, stream its output, decode the result file,
// hand the sample to the world loop for placement, clean up the artifact.
package genjob

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"cavecraft.ai/internal/caves/samples"
	"cavecraft.ai/internal/sim/world"
)

// State is a job's position in its lifecycle.
type State string

const (
	StateStarted          State = "STARTED"
	StateProcessLaunched  State = "PROCESS_LAUNCHED"
	StateProcessCompleted State = "PROCESS_COMPLETED"
	StateResultDecoded    State = "RESULT_DECODED"
	StatePlaced           State = "PLACED"
	StateCleanedUp        State = "CLEANED_UP"
	StateFailed           State = "FAILED"
)

// FailReason classifies terminal failures.
type FailReason string

const (
	FailMissingDependency FailReason = "MISSING_DEPENDENCY"
	FailProcessExit       FailReason = "PROCESS_EXIT"
	FailMissingOutput     FailReason = "MISSING_OUTPUT"
	FailDecode            FailReason = "DECODE_ERROR"
)

var (
	ErrMissingGenerator = errors.New("cave generator executable not found")
	ErrMissingWeights   = errors.New("cave generator weights not found")
)

type Config struct {
	GeneratorPath string
	WeightsPath   string
	ZDim          int
	OutDir        string
	Timeout       time.Duration
}

// Scheduler queues work onto the world-mutation owner. Supplied by the host
// integration layer; the orchestrator never touches world state directly.
type Scheduler interface {
	Schedule(fn func())
}

// Placement is what the world loop reports back after carving a sample.
type Placement struct {
	Placed  int `json:"placed"`
	Clipped int `json:"clipped"`
	Refused int `json:"refused"`
}

// Handlers carry the caller-facing outcome paths. Both run on the world
// loop, except that Start reports a missing dependency synchronously through
// its error return instead of OnFailure.
type Handlers struct {
	OnSuccess func(cs samples.CaveSample) Placement
	OnFailure func(reason FailReason)
}

// Event is one state transition, appended to the job event log.
type Event struct {
	JobID  string      `json:"job_id"`
	State  State       `json:"state"`
	Reason FailReason  `json:"reason,omitempty"`
	Detail string      `json:"detail,omitempty"`
	Anchor world.Vec3i `json:"anchor"`
	At     time.Time   `json:"at"`
}

// Record is the terminal summary written to the job index.
type Record struct {
	JobID      string
	State      State
	Reason     FailReason
	Anchor     world.Vec3i
	Placement  Placement
	StartedAt  time.Time
	FinishedAt time.Time
}

type EventSink interface {
	JobEvent(ev Event)
}

type Index interface {
	RecordJob(rec Record)
}

type job struct {
	id        string
	anchor    world.Vec3i
	outPath   string
	startedAt time.Time
	placement Placement
}

// Runner launches and supervises generation jobs. Each job gets its own
// worker goroutine and its own uuid-derived output path, so concurrent jobs
// never share artifacts. events and index may be nil.
type Runner struct {
	cfg    Config
	log    *log.Logger
	sched  Scheduler
	events EventSink
	index  Index
}

func NewRunner(cfg Config, logger *log.Logger, sched Scheduler, events EventSink, index Index) *Runner {
	return &Runner{cfg: cfg, log: logger, sched: sched, events: events, index: index}
}

// Start begins a generation job anchored at the given position. Called on
// the world loop. A missing executable or weights artifact fails the job
// before any process is spawned, reported synchronously through the returned
// error; every later failure arrives via Handlers.OnFailure on the world
// loop.
func (r *Runner) Start(anchor world.Vec3i, h Handlers) (string, error) {
	j := &job{
		id:        uuid.NewString(),
		anchor:    anchor,
		startedAt: time.Now().UTC(),
	}
	j.outPath = filepath.Join(r.cfg.OutDir, "cave_"+j.id+".json")
	r.transition(j, StateStarted, "", "")

	if _, err := os.Stat(r.cfg.GeneratorPath); err != nil {
		r.failSync(j, fmt.Errorf("%w: %s", ErrMissingGenerator, r.cfg.GeneratorPath))
		return j.id, ErrMissingGenerator
	}
	if _, err := os.Stat(r.cfg.WeightsPath); err != nil {
		r.failSync(j, fmt.Errorf("%w: %s", ErrMissingWeights, r.cfg.WeightsPath))
		return j.id, ErrMissingWeights
	}
	if err := os.MkdirAll(r.cfg.OutDir, 0o755); err != nil {
		r.failSync(j, fmt.Errorf("create output dir: %w", err))
		return j.id, ErrMissingGenerator
	}

	go r.run(j, h)
	return j.id, nil
}

// failSync records a MissingDependency failure on the caller's thread.
func (r *Runner) failSync(j *job, err error) {
	r.log.Printf("cave job %s: %v", short(j.id), err)
	r.transition(j, StateFailed, FailMissingDependency, err.Error())
	r.record(j, StateFailed, FailMissingDependency)
}

// fail records a terminal failure from the worker and schedules the caller
// notification onto the world loop.
func (r *Runner) fail(j *job, h Handlers, reason FailReason, err error) {
	r.log.Printf("cave job %s failed (%s): %v", short(j.id), reason, err)
	r.transition(j, StateFailed, reason, err.Error())
	r.record(j, StateFailed, reason)
	if h.OnFailure != nil {
		r.sched.Schedule(func() { h.OnFailure(reason) })
	}
}

func (r *Runner) run(j *job, h Handlers) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	defer cancel()

	exe, err := filepath.Abs(r.cfg.GeneratorPath)
	if err != nil {
		r.fail(j, h, FailProcessExit, err)
		return
	}
	weights, err := filepath.Abs(r.cfg.WeightsPath)
	if err != nil {
		r.fail(j, h, FailProcessExit, err)
		return
	}
	out, err := filepath.Abs(j.outPath)
	if err != nil {
		r.fail(j, h, FailProcessExit, err)
		return
	}

	cmd := exec.CommandContext(ctx, exe,
		"--weights", weights,
		"--z-dim", strconv.Itoa(r.cfg.ZDim),
		"--num-samples", "1",
		"--out", out,
	)
	// The generator resolves its own assets relative to its binary.
	cmd.Dir = filepath.Dir(exe)

	// Merge stderr into stdout and stream the combined output; the reader
	// must keep pace or a full pipe stalls the generator.
	pr, pw, err := os.Pipe()
	if err != nil {
		r.fail(j, h, FailProcessExit, err)
		return
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		r.fail(j, h, FailProcessExit, err)
		return
	}
	pw.Close()
	r.transition(j, StateProcessLaunched, "", exe)

	sc := bufio.NewScanner(pr)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		r.log.Printf("[cavegen %s] %s", short(j.id), sc.Text())
	}
	pr.Close()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("killed after %s: %w", r.cfg.Timeout, err)
		}
		r.removeArtifact(j, false)
		r.fail(j, h, FailProcessExit, err)
		return
	}
	r.transition(j, StateProcessCompleted, "", "")

	f, err := os.Open(j.outPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.fail(j, h, FailMissingOutput, fmt.Errorf("generator exited 0 but wrote no %s", filepath.Base(j.outPath)))
			return
		}
		r.fail(j, h, FailMissingOutput, err)
		return
	}
	cs, err := samples.DecodeSingle(f)
	f.Close()
	if err != nil {
		r.removeArtifact(j, false)
		r.fail(j, h, FailDecode, err)
		return
	}
	r.transition(j, StateResultDecoded, "", fmt.Sprintf("sample %d, %d voxels", cs.SampleID, len(cs.Voxels)))

	// Hand the sample to the world loop and wait for the outcome so the
	// terminal record carries the placement counts.
	done := make(chan Placement, 1)
	r.sched.Schedule(func() {
		if h.OnSuccess != nil {
			done <- h.OnSuccess(cs)
			return
		}
		done <- Placement{}
	})
	j.placement = <-done
	r.transition(j, StatePlaced, "", fmt.Sprintf("placed %d, clipped %d, refused %d",
		j.placement.Placed, j.placement.Clipped, j.placement.Refused))

	r.removeArtifact(j, true)
	r.transition(j, StateCleanedUp, "", "")
	r.record(j, StateCleanedUp, "")
}

// removeArtifact deletes the job's output file. Post-placement the job has
// already succeeded from the caller's point of view, so a deletion failure
// only warrants a warning.
func (r *Runner) removeArtifact(j *job, warnOnly bool) {
	err := os.Remove(j.outPath)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return
	}
	if warnOnly {
		r.log.Printf("warning: cave job %s: could not delete %s: %v", short(j.id), j.outPath, err)
		return
	}
	r.log.Printf("cave job %s: could not delete partial output %s: %v", short(j.id), j.outPath, err)
}

func (r *Runner) transition(j *job, st State, reason FailReason, detail string) {
	if r.events != nil {
		r.events.JobEvent(Event{
			JobID:  j.id,
			State:  st,
			Reason: reason,
			Detail: detail,
			Anchor: j.anchor,
			At:     time.Now().UTC(),
		})
	}
}

func (r *Runner) record(j *job, st State, reason FailReason) {
	if r.index == nil {
		return
	}
	r.index.RecordJob(Record{
		JobID:      j.id,
		State:      st,
		Reason:     reason,
		Anchor:     j.anchor,
		Placement:  j.placement,
		StartedAt:  j.startedAt,
		FinishedAt: time.Now().UTC(),
	})
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
