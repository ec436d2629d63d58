// Package samples holds the decoded cave sample library and decodes
// generator output. Sources are JSON arrays of cave samples; a source that
// fails to decode is skipped without aborting the batch.
package samples

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Voxel is one cell to clear, as an offset relative to the placement base.
type Voxel struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// CaveSample is one decoded cave layout. Shape and the two counts are
// generator diagnostics; they are logged when inconsistent but never
// validated against the voxel list.
type CaveSample struct {
	SampleID      int     `json:"sample_id"`
	Shape         [3]int  `json:"shape"`
	NumVoxels     int     `json:"num_voxels"`
	NumCaveVoxels int     `json:"num_cave_voxels"`
	Voxels        []Voxel `json:"voxels"`
}

// Source is one readable store of encoded samples.
type Source interface {
	Name() string
	Open() (io.ReadCloser, error)
}

type FileSource string

func (f FileSource) Name() string                 { return filepath.Base(string(f)) }
func (f FileSource) Open() (io.ReadCloser, error) { return os.Open(string(f)) }

// DirSources enumerates the *.json files of a library directory, sorted by
// name so load order is stable.
func DirSources(dir string) []Source {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []Source
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		out = append(out, FileSource(filepath.Join(dir, e.Name())))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

//go:embed schema.json
var schemaSrc string

var batchSchema = func() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("cave_sample.schema.json", strings.NewReader(schemaSrc)); err != nil {
		panic(err)
	}
	return c.MustCompile("cave_sample.schema.json")
}()

var ErrNoSamples = errors.New("source contains no samples")

// Repository is the in-memory sample library. Load publishes a fully built
// replacement sequence through an atomic pointer swap, so PickRandom may run
// concurrently with a reload.
type Repository struct {
	log *log.Logger
	cur atomic.Pointer[[]CaveSample]
}

func NewRepository(logger *log.Logger) *Repository {
	r := &Repository{log: logger}
	empty := []CaveSample{}
	r.cur.Store(&empty)
	return r
}

// Load decodes every source independently and replaces the library wholesale
// with the concatenation of the survivors, even when some sources fail.
// Returns the number of samples loaded.
func (r *Repository) Load(sources []Source) int {
	next := []CaveSample{}
	failed := 0
	for _, src := range sources {
		batch, err := decodeBatch(src)
		if err != nil {
			failed++
			r.log.Printf("cave source %s skipped: %v", src.Name(), err)
			continue
		}
		for _, cs := range batch {
			if cs.NumCaveVoxels != 0 && cs.NumCaveVoxels != len(cs.Voxels) {
				r.log.Printf("cave source %s: sample %d reports %d cave voxels but carries %d",
					src.Name(), cs.SampleID, cs.NumCaveVoxels, len(cs.Voxels))
			}
		}
		next = append(next, batch...)
	}
	r.cur.Store(&next)
	r.log.Printf("loaded %d cave samples from %d source(s) (%d failed)", len(next), len(sources), failed)
	return len(next)
}

// Len reports the current library size.
func (r *Repository) Len() int { return len(*r.cur.Load()) }

// PickRandom returns a uniformly random sample, or false when the library is
// empty.
func (r *Repository) PickRandom() (CaveSample, bool) {
	cur := *r.cur.Load()
	if len(cur) == 0 {
		return CaveSample{}, false
	}
	return cur[rand.IntN(len(cur))], true
}

// DecodeSingle decodes a source expected to contain an array of samples and
// returns its first element. Used for generator output, never for the bulk
// library.
func DecodeSingle(rd io.Reader) (CaveSample, error) {
	raw, err := io.ReadAll(rd)
	if err != nil {
		return CaveSample{}, err
	}
	batch, err := decodeRaw(raw)
	if err != nil {
		return CaveSample{}, err
	}
	if len(batch) == 0 {
		return CaveSample{}, ErrNoSamples
	}
	return batch[0], nil
}

func decodeBatch(src Source) ([]CaveSample, error) {
	rd, err := src.Open()
	if err != nil {
		return nil, err
	}
	defer rd.Close()
	raw, err := io.ReadAll(rd)
	if err != nil {
		return nil, err
	}
	return decodeRaw(raw)
}

func decodeRaw(raw []byte) ([]CaveSample, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	if err := batchSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	var batch []CaveSample
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&batch); err != nil {
		return nil, err
	}
	return batch, nil
}
