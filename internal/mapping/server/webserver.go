package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/submap.report/internal/mapping"
	"github.com/banshee-data/submap.report/internal/mapping/mesher"
)

// WebServer exposes the session over HTTP: health, status, trajectory,
// pose input, save/load/export triggers, and Prometheus metrics.
type WebServer struct {
	server *Server
	poses  *mapping.PoseBuffer
}

// NewWebServer wraps a session. poses may be nil when odometry arrives
// through another channel; the pose endpoint then reports 503.
func NewWebServer(s *Server, poses *mapping.PoseBuffer) *WebServer {
	return &WebServer{server: s, poses: poses}
}

// ServeMux returns the handler tree.
func (ws *WebServer) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", ws.handleHealth)
	mux.HandleFunc("/api/status", ws.handleStatus)
	mux.HandleFunc("/api/trajectory", ws.handleTrajectory)
	mux.HandleFunc("/api/pose", ws.handlePose)
	mux.HandleFunc("/api/map/save", ws.handleSave)
	mux.HandleFunc("/api/map/load", ws.handleLoad)
	mux.HandleFunc("/api/map/publish", ws.handlePublish)
	mux.HandleFunc("/api/mesh/export", ws.handleMeshExport)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (ws *WebServer) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ws.writeJSON(w, ws.server.Status())
}

func (ws *WebServer) handleTrajectory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	poses := ws.server.Trajectory()
	out := make([][3]float64, len(poses))
	for i, p := range poses {
		out[i] = [3]float64{p.Translation.X, p.Translation.Y, p.Translation.Z}
	}
	ws.writeJSON(w, map[string]interface{}{"positions": out})
}

// poseRequest is one stamped odometry sample.
type poseRequest struct {
	FrameID     string     `json:"frame_id"`
	StampNanos  int64      `json:"stamp_nanos"`
	Rotation    [4]float64 `json:"rotation"` // w, x, y, z
	Translation [3]float64 `json:"translation"`
}

func (ws *WebServer) handlePose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if ws.poses == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "pose input not configured")
		return
	}
	var req poseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeJSONError(w, http.StatusBadRequest, "bad pose payload: "+err.Error())
		return
	}
	if req.FrameID == "" {
		ws.writeJSONError(w, http.StatusBadRequest, "missing frame_id")
		return
	}
	rot := quat.Number{Real: req.Rotation[0], Imag: req.Rotation[1], Jmag: req.Rotation[2], Kmag: req.Rotation[3]}
	if quat.Abs(rot) == 0 {
		ws.writeJSONError(w, http.StatusBadRequest, "zero rotation quaternion")
		return
	}
	pose := mapping.NewTransform(rot, r3.Vec{X: req.Translation[0], Y: req.Translation[1], Z: req.Translation[2]})
	ws.poses.Add(req.FrameID, time.Unix(0, req.StampNanos), pose)
	// A new transform may unblock queued frames.
	ws.server.Drain()
	ws.writeJSON(w, map[string]string{"pose": "accepted"})
}

func (ws *WebServer) handleSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	path := r.FormValue("path")
	if path == "" {
		ws.writeJSONError(w, http.StatusBadRequest, "missing 'path' parameter")
		return
	}
	if !ws.server.SaveMap(path) {
		ws.writeJSONError(w, http.StatusInternalServerError, "save failed, see server log")
		return
	}
	ws.writeJSON(w, map[string]string{"saved": path})
}

func (ws *WebServer) handleLoad(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	path := r.FormValue("path")
	if path == "" {
		ws.writeJSONError(w, http.StatusBadRequest, "missing 'path' parameter")
		return
	}
	if !ws.server.LoadMap(path) {
		ws.writeJSONError(w, http.StatusInternalServerError, "load failed, see server log")
		return
	}
	ws.writeJSON(w, map[string]string{"loaded": path})
}

func (ws *WebServer) handlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ws.server.PublishGlobal()
	ws.writeJSON(w, map[string]string{"published": "global"})
}

func (ws *WebServer) handleMeshExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	mode := mesher.Mode("")
	if m := r.FormValue("mode"); m != "" {
		parsed, err := mesher.ParseMode(m)
		if err != nil {
			ws.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		mode = parsed
	}
	if !ws.server.ExportMesh(r.FormValue("path"), mode) {
		ws.writeJSONError(w, http.StatusInternalServerError, "export failed, see server log")
		return
	}
	ws.writeJSON(w, map[string]string{"exported": "ok"})
}
