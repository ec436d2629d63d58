package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickRateHz int `yaml:"tick_rate_hz"`

	// World vertical bounds, inclusive. Blocks outside [MinHeight, MaxHeight]
	// are never generated or mutated.
	MinHeight int `yaml:"min_height"`
	MaxHeight int `yaml:"max_height"`

	// Y level terrain generation builds up to.
	SurfaceY int `yaml:"surface_y"`

	// Horizontal world boundary in blocks from the origin (0 = unbounded).
	WorldBoundaryR int `yaml:"world_boundary_r"`

	// Radius of terrain patches sent to callers.
	ObsRadius int `yaml:"obs_radius"`

	CaveGen CaveGen `yaml:"cavegen"`
}

// CaveGen configures the external cave generator and how its output is
// placed.
type CaveGen struct {
	GeneratorPath string `yaml:"generator_path"`
	WeightsPath   string `yaml:"weights_path"`
	ZDim          int    `yaml:"z_dim"`

	// Directory for per-job generator output files.
	OutDir string `yaml:"out_dir"`

	// Directory holding the pregenerated sample library (*.json).
	LibraryDir string `yaml:"library_dir"`

	TimeoutSeconds int `yaml:"timeout_seconds"`

	// Centering offset applied to the anchor before voxel offsets are
	// added. Fixed configuration, never derived from a sample's shape.
	Offset []int `yaml:"offset"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:     5,
		MinHeight:      -64,
		MaxHeight:      320,
		SurfaceY:       64,
		WorldBoundaryR: 0,
		ObsRadius:      7,
		CaveGen: CaveGen{
			GeneratorPath:  "./ai/cavegen",
			WeightsPath:    "./ai/model_1.0.pt",
			ZDim:           64,
			OutDir:         "./data/cavegen",
			LibraryDir:     "./data/caves",
			TimeoutSeconds: 120,
			Offset:         []int{-16, -8, -16},
		},
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) validate() error {
	if t.TickRateHz <= 0 {
		return fmt.Errorf("tick_rate_hz must be positive, got %d", t.TickRateHz)
	}
	if t.MinHeight >= t.MaxHeight {
		return fmt.Errorf("min_height %d must be below max_height %d", t.MinHeight, t.MaxHeight)
	}
	if t.SurfaceY < t.MinHeight || t.SurfaceY > t.MaxHeight {
		return fmt.Errorf("surface_y %d outside [%d, %d]", t.SurfaceY, t.MinHeight, t.MaxHeight)
	}
	if t.CaveGen.ZDim <= 0 {
		return fmt.Errorf("cavegen.z_dim must be positive, got %d", t.CaveGen.ZDim)
	}
	if len(t.CaveGen.Offset) != 3 {
		return fmt.Errorf("cavegen.offset must have 3 components, got %d", len(t.CaveGen.Offset))
	}
	if t.CaveGen.TimeoutSeconds <= 0 {
		return fmt.Errorf("cavegen.timeout_seconds must be positive, got %d", t.CaveGen.TimeoutSeconds)
	}
	return nil
}
