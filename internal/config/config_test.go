package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadPartialConfig(t *testing.T) {
	path := writeConfig(t, `{
		"min_frame_interval": "500ms",
		"frames_per_submap": 5,
		"mesh_mode": "separated"
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.GetMinFrameInterval(); got != 500*time.Millisecond {
		t.Errorf("min frame interval = %v, want 500ms", got)
	}
	if got := cfg.GetFramesPerSubmap(); got != 5 {
		t.Errorf("frames per submap = %d, want 5", got)
	}
	if got := cfg.GetMeshMode(); got != "separated" {
		t.Errorf("mesh mode = %q, want separated", got)
	}
	// Unset fields fall back to defaults.
	if got := cfg.GetQueueBound(); got != DefaultQueueBound {
		t.Errorf("queue bound = %d, want default %d", got, DefaultQueueBound)
	}
	if got := cfg.GetWorldFrame(); got != DefaultWorldFrame {
		t.Errorf("world frame = %q, want default %q", got, DefaultWorldFrame)
	}
	if got := cfg.GetVoxelSize(); got != DefaultVoxelSize {
		t.Errorf("voxel size = %g, want default %g", got, DefaultVoxelSize)
	}
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := Empty()
	if err := cfg.Validate(); err != nil {
		t.Errorf("empty config should validate: %v", err)
	}
	if cfg.GetMeshRefreshInterval() != DefaultMeshRefreshInterval {
		t.Error("mesh refresh should default to disabled")
	}
	if cfg.GetTimingDir() != "" {
		t.Error("timing dir should default to empty (disabled)")
	}
	if cfg.GetUDPListenAddr() != DefaultUDPListenAddr {
		t.Errorf("udp listen addr = %q", cfg.GetUDPListenAddr())
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad duration":      `{"min_frame_interval": "half a second"}`,
		"zero queue bound":  `{"queue_bound": 0}`,
		"zero threshold":    `{"frames_per_submap": 0}`,
		"negative voxel":    `{"voxel_size": -0.1}`,
		"huge side":         `{"voxels_per_side": 1000}`,
		"inverted range":    `{"min_range": 2, "max_range": 1}`,
		"unknown mesh mode": `{"mesh_mode": "fancy"}`,
		"broken json":       `{"queue_bound": `,
	}
	for name, content := range cases {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Errorf("%s: expected load to fail", name)
		}
	}
}

func TestLoadRejectsNonJSONPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("non-.json extension should be rejected")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("missing file should be rejected")
	}
}
