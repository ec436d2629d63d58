package genjob

import (
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cavecraft.ai/internal/caves/samples"
	"cavecraft.ai/internal/sim/world"
)

// loopSched stands in for the world loop: a single goroutine draining a
// queue, so scheduled work is serialized like the real owner.
type loopSched struct {
	ch chan func()
}

func newLoopSched(t *testing.T) *loopSched {
	s := &loopSched{ch: make(chan func(), 16)}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for fn := range s.ch {
			fn()
		}
	}()
	t.Cleanup(func() {
		close(s.ch)
		<-done
	})
	return s
}

func (s *loopSched) Schedule(fn func()) { s.ch <- fn }

type eventLog struct {
	mu  sync.Mutex
	evs []Event
}

func (l *eventLog) JobEvent(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evs = append(l.evs, ev)
}

func (l *eventLog) states() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]State, len(l.evs))
	for i, ev := range l.evs {
		out[i] = ev.State
	}
	return out
}

type recordLog struct {
	mu   sync.Mutex
	recs []Record
}

func (l *recordLog) RecordJob(rec Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recs = append(l.recs, rec)
}

func (l *recordLog) last(t *testing.T) Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.recs) == 0 {
		t.Fatalf("no job records written")
	}
	return l.recs[len(l.recs)-1]
}

const sampleJSON = `[{"sample_id":7,"shape":[2,1,1],"num_voxels":2,"num_cave_voxels":2,
  "voxels":[{"x":0,"y":0,"z":0},{"x":1,"y":0,"z":0}]}]`

// writeGenerator installs a fake generator script. body runs after the
// argument contract is parsed; $out holds the --out path.
func writeGenerator(t *testing.T, dir, body string) string {
	t.Helper()
	script := `#!/bin/sh
out=""
while [ $# -gt 0 ]; do
  case "$1" in
    --out) out="$2"; shift 2 ;;
    *) shift ;;
  esac
done
` + body + "\n"
	path := filepath.Join(dir, "cavegen")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write generator: %v", err)
	}
	return path
}

func writeWeights(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "model_1.0.pt")
	if err := os.WriteFile(path, []byte("weights"), 0o644); err != nil {
		t.Fatalf("write weights: %v", err)
	}
	return path
}

func testRunner(t *testing.T, cfg Config) (*Runner, *eventLog, *recordLog) {
	t.Helper()
	if cfg.ZDim == 0 {
		cfg.ZDim = 64
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	evs := &eventLog{}
	recs := &recordLog{}
	r := NewRunner(cfg, log.New(io.Discard, "", 0), newLoopSched(t), evs, recs)
	return r, evs, recs
}

func TestStart_MissingGenerator(t *testing.T) {
	dir := t.TempDir()
	r, evs, recs := testRunner(t, Config{
		GeneratorPath: filepath.Join(dir, "no-such-generator"),
		WeightsPath:   writeWeights(t, dir),
		OutDir:        dir,
	})

	_, err := r.Start(world.Vec3i{X: 1, Y: 64, Z: 1}, Handlers{
		OnFailure: func(FailReason) { t.Errorf("OnFailure must not run for a synchronous dependency failure") },
	})
	if !errors.Is(err, ErrMissingGenerator) {
		t.Fatalf("Start error = %v, want ErrMissingGenerator", err)
	}

	want := []State{StateStarted, StateFailed}
	if got := evs.states(); len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("states = %v, want %v", got, want)
	}
	rec := recs.last(t)
	if rec.State != StateFailed || rec.Reason != FailMissingDependency {
		t.Fatalf("record = %+v, want FAILED/MISSING_DEPENDENCY", rec)
	}
}

func TestStart_MissingWeights(t *testing.T) {
	dir := t.TempDir()
	r, _, _ := testRunner(t, Config{
		GeneratorPath: writeGenerator(t, dir, `printf '%s\n' '`+sampleJSON+`' > "$out"`),
		WeightsPath:   filepath.Join(dir, "no-such-weights"),
		OutDir:        dir,
	})
	if _, err := r.Start(world.Vec3i{}, Handlers{}); !errors.Is(err, ErrMissingWeights) {
		t.Fatalf("Start error = %v, want ErrMissingWeights", err)
	}
}

func TestRun_Success(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	r, evs, recs := testRunner(t, Config{
		GeneratorPath: writeGenerator(t, dir, `echo "sampling latents"
printf '%s\n' '`+sampleJSON+`' > "$out"`),
		WeightsPath: writeWeights(t, dir),
		OutDir:      outDir,
	})

	got := make(chan samples.CaveSample, 1)
	jobID, err := r.Start(world.Vec3i{X: 10, Y: 70, Z: 10}, Handlers{
		OnSuccess: func(cs samples.CaveSample) Placement {
			got <- cs
			return Placement{Placed: len(cs.Voxels)}
		},
		OnFailure: func(reason FailReason) { t.Errorf("unexpected failure: %s", reason) },
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	var cs samples.CaveSample
	select {
	case cs = <-got:
	case <-time.After(10 * time.Second):
		t.Fatalf("placement never scheduled")
	}
	if cs.SampleID != 7 || len(cs.Voxels) != 2 {
		t.Fatalf("decoded sample = %+v", cs)
	}

	// Terminal record is written after cleanup.
	deadline := time.Now().Add(5 * time.Second)
	for {
		recs.mu.Lock()
		n := len(recs.recs)
		recs.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no terminal record")
		}
		time.Sleep(10 * time.Millisecond)
	}
	rec := recs.last(t)
	if rec.State != StateCleanedUp || rec.Placement.Placed != 2 {
		t.Fatalf("record = %+v, want CLEANED_UP with 2 placed", rec)
	}

	if _, err := os.Stat(filepath.Join(outDir, "cave_"+jobID+".json")); !os.IsNotExist(err) {
		t.Fatalf("artifact not cleaned up: %v", err)
	}

	want := []State{StateStarted, StateProcessLaunched, StateProcessCompleted,
		StateResultDecoded, StatePlaced, StateCleanedUp}
	states := evs.states()
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
}

func TestRun_ProcessExit(t *testing.T) {
	dir := t.TempDir()
	r, _, recs := testRunner(t, Config{
		GeneratorPath: writeGenerator(t, dir, `echo "oom" >&2
exit 3`),
		WeightsPath: writeWeights(t, dir),
		OutDir:      dir,
	})

	failed := make(chan FailReason, 1)
	if _, err := r.Start(world.Vec3i{}, Handlers{
		OnSuccess: func(samples.CaveSample) Placement {
			t.Errorf("no placement expected")
			return Placement{}
		},
		OnFailure: func(reason FailReason) { failed <- reason },
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case reason := <-failed:
		if reason != FailProcessExit {
			t.Fatalf("reason = %s, want PROCESS_EXIT", reason)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("failure never reported")
	}
	if rec := recs.last(t); rec.Reason != FailProcessExit {
		t.Fatalf("record reason = %s, want PROCESS_EXIT", rec.Reason)
	}
}

func TestRun_MissingOutput(t *testing.T) {
	dir := t.TempDir()
	r, _, _ := testRunner(t, Config{
		GeneratorPath: writeGenerator(t, dir, `echo "done (but forgot to write)"`),
		WeightsPath:   writeWeights(t, dir),
		OutDir:        dir,
	})

	failed := make(chan FailReason, 1)
	if _, err := r.Start(world.Vec3i{}, Handlers{
		OnSuccess: func(samples.CaveSample) Placement {
			t.Errorf("no placement expected")
			return Placement{}
		},
		OnFailure: func(reason FailReason) { failed <- reason },
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case reason := <-failed:
		if reason != FailMissingOutput {
			t.Fatalf("reason = %s, want MISSING_OUTPUT", reason)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("failure never reported")
	}
}

func TestRun_DecodeError(t *testing.T) {
	dir := t.TempDir()
	r, _, _ := testRunner(t, Config{
		GeneratorPath: writeGenerator(t, dir, `echo "not json at all" > "$out"`),
		WeightsPath:   writeWeights(t, dir),
		OutDir:        dir,
	})

	failed := make(chan FailReason, 1)
	jobID, err := r.Start(world.Vec3i{}, Handlers{
		OnFailure: func(reason FailReason) { failed <- reason },
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case reason := <-failed:
		if reason != FailDecode {
			t.Fatalf("reason = %s, want DECODE_ERROR", reason)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("failure never reported")
	}
	if _, err := os.Stat(filepath.Join(dir, "cave_"+jobID+".json")); !os.IsNotExist(err) {
		t.Fatalf("unreadable artifact should be removed: %v", err)
	}
}

func TestRun_TimeoutKillsProcess(t *testing.T) {
	dir := t.TempDir()
	r, _, _ := testRunner(t, Config{
		GeneratorPath: writeGenerator(t, dir, `exec sleep 30`),
		WeightsPath:   writeWeights(t, dir),
		OutDir:        dir,
		Timeout:       300 * time.Millisecond,
	})

	failed := make(chan FailReason, 1)
	if _, err := r.Start(world.Vec3i{}, Handlers{
		OnFailure: func(reason FailReason) { failed <- reason },
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case reason := <-failed:
		if reason != FailProcessExit {
			t.Fatalf("reason = %s, want PROCESS_EXIT", reason)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("hung process was never reaped")
	}
}
