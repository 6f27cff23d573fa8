// Package server ties the ingest queue, submap store, integration engine,
// mesher and exchange together into one mapping session.
package server

import (
	"sync"
	"time"

	"github.com/banshee-data/submap.report/internal/mapping"
	"github.com/banshee-data/submap.report/internal/mapping/archive"
	"github.com/banshee-data/submap.report/internal/mapping/exchange"
	"github.com/banshee-data/submap.report/internal/mapping/integrate"
	"github.com/banshee-data/submap.report/internal/mapping/mesher"
	"github.com/banshee-data/submap.report/internal/mapping/submap"
	"github.com/banshee-data/submap.report/internal/mapping/timing"
	"github.com/banshee-data/submap.report/internal/monitoring"
)

// PoseSink receives the world-frame poses of all submaps whenever the set
// changes (rollover and archive load). Used for pose broadcast to
// downstream visualisation.
type PoseSink func(poses []mapping.Transform)

// Config holds the session parameters.
type Config struct {
	// WorldFrame is the fixed frame transforms resolve into.
	WorldFrame string
	// MinFrameInterval throttles ingest; zero accepts every frame.
	MinFrameInterval time.Duration
	// QueueBound caps the ingest backlog (default 10).
	QueueBound int
	// FramesPerSubmap is the integrated-frame threshold that triggers a
	// new submap.
	FramesPerSubmap int
	// MeshExportPath is the default target for mesh export requests.
	MeshExportPath string
	// MeshMode selects separated or combined export.
	MeshMode mesher.Mode
	// Verbose enables per-frame integration logging.
	Verbose bool
}

// DefaultConfig returns the session defaults.
func DefaultConfig() Config {
	return Config{
		WorldFrame:      "world",
		FramesPerSubmap: 20,
		MeshMode:        mesher.ModeCombined,
	}
}

type stampedPose struct {
	Timestamp time.Time
	Pose      mapping.Transform
}

// Server is one mapping session. All state lives here; there are no
// package-level singletons, so tests can run sessions side by side.
//
// Methods are safe for concurrent use, but the intended deployment funnels
// frame and submap arrival through a Dispatcher so the integration path
// stays single-threaded.
type Server struct {
	cfg Config

	mu          sync.Mutex
	store       *submap.Store
	queue       *mapping.IngestQueue
	engine      *integrate.Engine
	mesh        *mesher.Mesher
	exchange    *exchange.Exchange
	recorder    *timing.Recorder
	poseSink    PoseSink
	counter     int
	initialized bool
	trajectory  []stampedPose
	startedAt   time.Time
}

// New assembles a session. wire may be nil (no exchange peers); recorder
// may be nil (timing disabled); poseSink may be nil.
func New(cfg Config, layerCfg submap.LayerConfig, integrateCfg integrate.Config,
	resolver mapping.TransformResolver, wire exchange.Wire,
	recorder *timing.Recorder, poseSink PoseSink) *Server {

	if cfg.WorldFrame == "" {
		cfg.WorldFrame = DefaultConfig().WorldFrame
	}
	if cfg.FramesPerSubmap <= 0 {
		cfg.FramesPerSubmap = DefaultConfig().FramesPerSubmap
	}
	if cfg.MeshMode == "" {
		cfg.MeshMode = mesher.ModeCombined
	}

	store := submap.NewStore(layerCfg)
	return &Server{
		cfg:   cfg,
		store: store,
		queue: mapping.NewIngestQueue(mapping.IngestQueueConfig{
			Resolver:    resolver,
			MinInterval: cfg.MinFrameInterval,
			Bound:       cfg.QueueBound,
		}),
		engine:    integrate.NewEngine(store, integrateCfg),
		mesh:      mesher.New(store),
		exchange:  exchange.New(store, wire, recorder),
		recorder:  recorder,
		poseSink:  poseSink,
		startedAt: time.Now(),
	}
}

// HandlePointcloud enqueues one frame and drains every entry whose
// transform has become resolvable.
func (s *Server) HandlePointcloud(frame *mapping.PointcloudFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue.Enqueue(frame)
	s.drainLocked()
}

// Drain retries queued frames without adding a new one. Called when a
// transform arrives after its frame did.
func (s *Server) Drain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drainLocked()
}

func (s *Server) drainLocked() {
	for {
		frame, pose, ok := s.queue.Next()
		if !ok {
			return
		}
		s.integrateLocked(pose, frame)
	}
}

func (s *Server) integrateLocked(pose mapping.Transform, frame *mapping.PointcloudFrame) {
	if !s.initialized {
		s.createSubmapLocked(pose, frame.Timestamp)
		s.initialized = true
		monitoring.Logf("server: map initialized at frame %q", frame.FrameID)
	}

	stop := s.startTimer("server/integrate")
	n, err := s.engine.Integrate(pose, frame)
	stop()
	if err != nil {
		monitoring.Logf("server: integration failed: %v", err)
		return
	}
	s.counter++
	s.trajectory = append(s.trajectory, stampedPose{Timestamp: frame.Timestamp, Pose: pose})
	if s.cfg.Verbose {
		active := s.store.Active()
		monitoring.Logf("server: integrated %d/%d points into submap %d (%d blocks, frame %d/%d)",
			n, len(frame.Points), active.ID(), active.Layer().BlockCount(), s.counter, s.cfg.FramesPerSubmap)
	}

	if s.counter > s.cfg.FramesPerSubmap {
		s.rolloverLocked(pose, frame.Timestamp)
	}
}

// rolloverLocked finalizes the active submap and starts the next one at
// the most recent sensor pose.
func (s *Server) rolloverLocked(pose mapping.Transform, ts time.Time) {
	active := s.store.Active()
	active.EndRecording(ts)
	s.exchange.Publish(active.ID(), false)

	s.createSubmapLocked(pose, ts)
	s.counter = 0
	s.broadcastPosesLocked()
	monitoring.Logf("server: started submap %d (%d total)", mustActiveID(s.store), s.store.Size())
}

func (s *Server) createSubmapLocked(pose mapping.Transform, ts time.Time) {
	sm := s.store.Create(pose)
	sm.StartRecording(ts)
	s.engine.SwitchToActiveSubmap()
	s.mesh.SwitchToActiveSubmap()
}

func (s *Server) broadcastPosesLocked() {
	if s.poseSink == nil {
		return
	}
	s.poseSink(s.store.Poses())
}

// HandleSubmapMessage merges one inbound exchange message. Failures are
// logged; a bad peer message never takes the session down.
func (s *Server) HandleSubmapMessage(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.exchange.Receive(data); err != nil {
		monitoring.Logf("server: rejected inbound submap: %v", err)
	}
}

// ReceiveSubmap is HandleSubmapMessage with the error surfaced, for the
// gRPC push path where the peer should see the rejection.
func (s *Server) ReceiveSubmap(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchange.Receive(data)
}

// RefreshMesh regenerates the active-submap surface snapshot. A no-op
// until the map is initialized. The session lock is held across the walk
// of the active layer so a concurrent drain cannot mutate it mid-read.
func (s *Server) RefreshMesh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return
	}
	s.mesh.RefreshActive()
}

// SaveMap archives the whole map to path. Returns success; the cause of a
// failure is logged, matching the operation's use from fire-and-forget
// surfaces like HTTP handlers.
func (s *Server) SaveMap(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store.Size() == 0 {
		monitoring.Logf("server: save requested but the map is empty")
		return false
	}
	stop := s.startTimer("server/save map")
	err := archive.Save(path, s.store)
	stop()
	if err != nil {
		monitoring.Logf("server: save to %s failed: %v", path, err)
		return false
	}
	monitoring.Logf("server: saved %d submaps to %s", s.store.Size(), path)
	return true
}

// LoadMap replaces the session's map with an archived one. On success every
// loaded submap is republished followed by one global snapshot, so peers
// and visualisation converge on the loaded state.
func (s *Server) LoadMap(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	stop := s.startTimer("server/load map")
	records, active, err := archive.Load(path)
	stop()
	if err != nil {
		monitoring.Logf("server: load from %s failed: %v", path, err)
		return false
	}
	if err := s.store.Replace(records, active); err != nil {
		monitoring.Logf("server: load from %s failed: %v", path, err)
		return false
	}
	s.counter = 0
	s.initialized = true
	s.trajectory = nil
	s.engine.SwitchToActiveSubmap()
	s.mesh.SwitchToActiveSubmap()

	for _, id := range s.store.IDs() {
		s.exchange.Publish(id, false)
	}
	s.exchange.Publish(0, true)
	s.broadcastPosesLocked()

	monitoring.Logf("server: loaded %d submaps from %s (active %d)", s.store.Size(), path, active)
	return true
}

// ExportMesh writes the map surface to a PLY file. An empty path falls
// back to the configured export path.
func (s *Server) ExportMesh(path string, mode mesher.Mode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if path == "" {
		path = s.cfg.MeshExportPath
	}
	if mode == "" {
		mode = s.cfg.MeshMode
	}
	return s.mesh.Export(path, mode)
}

// PublishGlobal emits one whole-map snapshot to subscribers.
func (s *Server) PublishGlobal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exchange.Publish(0, true)
}

func (s *Server) startTimer(name string) func() {
	reg := s.recorder.Registry()
	if reg == nil {
		return func() {}
	}
	return reg.Start(name)
}

func mustActiveID(st *submap.Store) submap.ID {
	id, _ := st.ActiveID()
	return id
}

// Status is the session snapshot served by the web API.
type Status struct {
	UptimeSeconds   float64 `json:"uptime_seconds"`
	WorldFrame      string  `json:"world_frame"`
	Initialized     bool    `json:"initialized"`
	SubmapCount     int     `json:"submap_count"`
	ActiveSubmapID  int64   `json:"active_submap_id"`
	FramesInSubmap  int     `json:"frames_in_submap"`
	FramesPerSubmap int     `json:"frames_per_submap"`
	QueueBacklog    int     `json:"queue_backlog"`
	TrajectoryLen   int     `json:"trajectory_len"`
	MeshVertices    int     `json:"mesh_vertices"`
}

// Status reports the current session state.
func (s *Server) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		UptimeSeconds:   time.Since(s.startedAt).Seconds(),
		WorldFrame:      s.cfg.WorldFrame,
		Initialized:     s.initialized,
		SubmapCount:     s.store.Size(),
		ActiveSubmapID:  int64(mustActiveID(s.store)),
		FramesInSubmap:  s.counter,
		FramesPerSubmap: s.cfg.FramesPerSubmap,
		QueueBacklog:    s.queue.Len(),
		TrajectoryLen:   len(s.trajectory),
		MeshVertices:    s.mesh.SnapshotSize(),
	}
}

// Trajectory returns a copy of the integrated sensor path.
func (s *Server) Trajectory() []mapping.Transform {
	s.mu.Lock()
	defer s.mu.Unlock()
	poses := make([]mapping.Transform, len(s.trajectory))
	for i, sp := range s.trajectory {
		poses[i] = sp.Pose
	}
	return poses
}
