// Package config loads the submap server configuration from JSON. Fields
// are pointers so a partial file overrides only what it names; the Get*
// accessors fall back to defaults for everything else.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ServerConfig is the root configuration for the submap server. The schema
// doubles as the /api/config response so the running values can be
// inspected.
type ServerConfig struct {
	// Ingest params
	MinFrameInterval *string `json:"min_frame_interval,omitempty"` // duration string like "500ms"
	QueueBound       *int    `json:"queue_bound,omitempty"`
	WorldFrame       *string `json:"world_frame,omitempty"`

	// Lifecycle params
	FramesPerSubmap *int `json:"frames_per_submap,omitempty"`

	// Layer params
	VoxelSize          *float64 `json:"voxel_size,omitempty"`
	VoxelsPerSide      *int     `json:"voxels_per_side,omitempty"`
	TruncationDistance *float64 `json:"truncation_distance,omitempty"`
	MaxVoxelWeight     *float64 `json:"max_voxel_weight,omitempty"`

	// Integration params
	MinRange *float64 `json:"min_range,omitempty"`
	MaxRange *float64 `json:"max_range,omitempty"`

	// Mesh params
	MeshRefreshInterval *string `json:"mesh_refresh_interval,omitempty"` // "0s" disables
	MeshExportPath      *string `json:"mesh_export_path,omitempty"`
	MeshMode            *string `json:"mesh_mode,omitempty"` // "separated" or "combined"

	// Timing params
	TimingDir *string `json:"timing_dir,omitempty"` // empty disables timing files

	// Network params
	UDPListenAddr  *string `json:"udp_listen_addr,omitempty"`
	UDPRcvBuf      *int    `json:"udp_rcv_buf,omitempty"`
	GRPCListenAddr *string `json:"grpc_listen_addr,omitempty"`
	HTTPListenAddr *string `json:"http_listen_addr,omitempty"`
	ClientQueue    *int    `json:"client_queue,omitempty"`

	// Transform buffer params
	TransformTolerance *string `json:"transform_tolerance,omitempty"`
	TransformMaxAge    *string `json:"transform_max_age,omitempty"`
}

// Defaults.
const (
	DefaultMinFrameInterval    = 0 * time.Second
	DefaultQueueBound          = 10
	DefaultWorldFrame          = "world"
	DefaultFramesPerSubmap     = 20
	DefaultVoxelSize           = 0.20
	DefaultVoxelsPerSide       = 16
	DefaultMinRange            = 0.1
	DefaultMaxRange            = 50.0
	DefaultMeshRefreshInterval = 0 * time.Second
	DefaultMeshMode            = "combined"
	DefaultUDPListenAddr       = ":7502"
	DefaultGRPCListenAddr      = "localhost:50061"
	DefaultHTTPListenAddr      = ":8080"
	DefaultTransformTolerance  = 100 * time.Millisecond
	DefaultTransformMaxAge     = 30 * time.Second
)

// Empty returns a ServerConfig with all fields unset.
func Empty() *ServerConfig {
	return &ServerConfig{}
}

// Load reads a ServerConfig from a JSON file. Fields omitted from the file
// keep their defaults, so partial configs are safe.
func Load(path string) (*ServerConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks every field that is set.
func (c *ServerConfig) Validate() error {
	for name, s := range map[string]*string{
		"min_frame_interval":    c.MinFrameInterval,
		"mesh_refresh_interval": c.MeshRefreshInterval,
		"transform_tolerance":   c.TransformTolerance,
		"transform_max_age":     c.TransformMaxAge,
	} {
		if s == nil {
			continue
		}
		if _, err := time.ParseDuration(*s); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.QueueBound != nil && *c.QueueBound < 1 {
		return fmt.Errorf("queue_bound must be at least 1, got %d", *c.QueueBound)
	}
	if c.FramesPerSubmap != nil && *c.FramesPerSubmap < 1 {
		return fmt.Errorf("frames_per_submap must be at least 1, got %d", *c.FramesPerSubmap)
	}
	if c.VoxelSize != nil && *c.VoxelSize <= 0 {
		return fmt.Errorf("voxel_size must be positive, got %g", *c.VoxelSize)
	}
	if c.VoxelsPerSide != nil && (*c.VoxelsPerSide < 1 || *c.VoxelsPerSide > 256) {
		return fmt.Errorf("voxels_per_side must be in 1..256, got %d", *c.VoxelsPerSide)
	}
	if c.MinRange != nil && *c.MinRange < 0 {
		return fmt.Errorf("min_range must not be negative, got %g", *c.MinRange)
	}
	if c.MaxRange != nil && c.MinRange != nil && *c.MaxRange <= *c.MinRange {
		return fmt.Errorf("max_range %g must exceed min_range %g", *c.MaxRange, *c.MinRange)
	}
	if c.MeshMode != nil && *c.MeshMode != "separated" && *c.MeshMode != "combined" {
		return fmt.Errorf("mesh_mode must be \"separated\" or \"combined\", got %q", *c.MeshMode)
	}
	return nil
}

func (c *ServerConfig) duration(s *string, def time.Duration) time.Duration {
	if s == nil {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

func (c *ServerConfig) GetMinFrameInterval() time.Duration {
	return c.duration(c.MinFrameInterval, DefaultMinFrameInterval)
}

func (c *ServerConfig) GetQueueBound() int {
	if c.QueueBound == nil {
		return DefaultQueueBound
	}
	return *c.QueueBound
}

func (c *ServerConfig) GetWorldFrame() string {
	if c.WorldFrame == nil {
		return DefaultWorldFrame
	}
	return *c.WorldFrame
}

func (c *ServerConfig) GetFramesPerSubmap() int {
	if c.FramesPerSubmap == nil {
		return DefaultFramesPerSubmap
	}
	return *c.FramesPerSubmap
}

func (c *ServerConfig) GetVoxelSize() float64 {
	if c.VoxelSize == nil {
		return DefaultVoxelSize
	}
	return *c.VoxelSize
}

func (c *ServerConfig) GetVoxelsPerSide() int {
	if c.VoxelsPerSide == nil {
		return DefaultVoxelsPerSide
	}
	return *c.VoxelsPerSide
}

func (c *ServerConfig) GetTruncationDistance() float64 {
	if c.TruncationDistance == nil {
		return 0 // layer derives it from voxel size
	}
	return *c.TruncationDistance
}

func (c *ServerConfig) GetMaxVoxelWeight() float64 {
	if c.MaxVoxelWeight == nil {
		return 0 // layer default
	}
	return *c.MaxVoxelWeight
}

func (c *ServerConfig) GetMinRange() float64 {
	if c.MinRange == nil {
		return DefaultMinRange
	}
	return *c.MinRange
}

func (c *ServerConfig) GetMaxRange() float64 {
	if c.MaxRange == nil {
		return DefaultMaxRange
	}
	return *c.MaxRange
}

func (c *ServerConfig) GetMeshRefreshInterval() time.Duration {
	return c.duration(c.MeshRefreshInterval, DefaultMeshRefreshInterval)
}

func (c *ServerConfig) GetMeshExportPath() string {
	if c.MeshExportPath == nil {
		return ""
	}
	return *c.MeshExportPath
}

func (c *ServerConfig) GetMeshMode() string {
	if c.MeshMode == nil {
		return DefaultMeshMode
	}
	return *c.MeshMode
}

func (c *ServerConfig) GetTimingDir() string {
	if c.TimingDir == nil {
		return ""
	}
	return *c.TimingDir
}

func (c *ServerConfig) GetUDPListenAddr() string {
	if c.UDPListenAddr == nil {
		return DefaultUDPListenAddr
	}
	return *c.UDPListenAddr
}

func (c *ServerConfig) GetUDPRcvBuf() int {
	if c.UDPRcvBuf == nil {
		return 0
	}
	return *c.UDPRcvBuf
}

func (c *ServerConfig) GetGRPCListenAddr() string {
	if c.GRPCListenAddr == nil {
		return DefaultGRPCListenAddr
	}
	return *c.GRPCListenAddr
}

func (c *ServerConfig) GetHTTPListenAddr() string {
	if c.HTTPListenAddr == nil {
		return DefaultHTTPListenAddr
	}
	return *c.HTTPListenAddr
}

func (c *ServerConfig) GetClientQueue() int {
	if c.ClientQueue == nil {
		return 0 // publisher default
	}
	return *c.ClientQueue
}

func (c *ServerConfig) GetTransformTolerance() time.Duration {
	return c.duration(c.TransformTolerance, DefaultTransformTolerance)
}

func (c *ServerConfig) GetTransformMaxAge() time.Duration {
	return c.duration(c.TransformMaxAge, DefaultTransformMaxAge)
}
