package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTuning(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoad_OverridesDefaults(t *testing.T) {
	p := writeTuning(t, `
tick_rate_hz: 10
min_height: 0
max_height: 128
surface_y: 60
cavegen:
  generator_path: /opt/ai/cavegen
  timeout_seconds: 30
`)
	tn, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tn.TickRateHz != 10 || tn.MinHeight != 0 || tn.MaxHeight != 128 {
		t.Fatalf("world fields not applied: %+v", tn)
	}
	if tn.CaveGen.GeneratorPath != "/opt/ai/cavegen" || tn.CaveGen.TimeoutSeconds != 30 {
		t.Fatalf("cavegen fields not applied: %+v", tn.CaveGen)
	}
	// Untouched fields keep defaults.
	if tn.CaveGen.ZDim != 64 || len(tn.CaveGen.Offset) != 3 {
		t.Fatalf("defaults lost: %+v", tn.CaveGen)
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !os.IsNotExist(err) {
		t.Fatalf("want not-exist error, got %v", err)
	}
}

func TestLoad_RejectsInvertedHeights(t *testing.T) {
	p := writeTuning(t, "min_height: 100\nmax_height: 10\n")
	if _, err := Load(p); err == nil || !strings.Contains(err.Error(), "min_height") {
		t.Fatalf("want min/max validation error, got %v", err)
	}
}

func TestLoad_RejectsBadOffset(t *testing.T) {
	p := writeTuning(t, "cavegen:\n  offset: [1, 2]\n")
	if _, err := Load(p); err == nil || !strings.Contains(err.Error(), "offset") {
		t.Fatalf("want offset validation error, got %v", err)
	}
}

func TestDefaults_Valid(t *testing.T) {
	if err := Defaults().validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}
