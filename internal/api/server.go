// Package api exposes the ingest and read endpoints for sensor devices and
// display frontends. All responses use the shared JSON envelope.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/raum-tracker/occupancy/internal/db"
	"github.com/raum-tracker/occupancy/internal/httputil"
	"github.com/raum-tracker/occupancy/internal/monitoring"
	"github.com/raum-tracker/occupancy/internal/occupancy"
	"github.com/raum-tracker/occupancy/internal/timeutil"
)

type Server struct {
	db    *db.DB
	est   *occupancy.Estimator
	clock timeutil.Clock
}

// NewServer wires the API server. A nil clock gets the real clock.
func NewServer(database *db.DB, est *occupancy.Estimator, clock timeutil.Clock) *Server {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Server{db: database, est: est, clock: clock}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/healthz", s.health).Methods("GET")
	v1.HandleFunc("/occupancy/current", s.currentOccupancy).Methods("GET")
	v1.HandleFunc("/gate/flow", s.withDevice(s.ingestFlow)).Methods("POST")
	v1.HandleFunc("/sensor/reading", s.withDevice(s.ingestReading)).Methods("POST")

	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteSuccess(w, http.StatusOK, map[string]string{"status": "ok"}, "")
}

type flowRequest struct {
	GateID     string   `json:"gate_id"`
	Direction  string   `json:"direction"`
	Timestamp  *int64   `json:"timestamp"`
	Confidence *float64 `json:"confidence"`
	DurationMs *int64   `json:"duration_ms"`
}

type flowResponse struct {
	EventID  int64 `json:"event_id"`
	NetToday int   `json:"net_today"`
}

// ingestFlow records a directional gate passage and applies it to the space's
// live counter. The counter state row is created on the first event.
func (s *Server) ingestFlow(w http.ResponseWriter, r *http.Request, device *db.Device) {
	var req flowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}

	direction := strings.ToUpper(req.Direction)
	if direction != db.DirectionIn && direction != db.DirectionOut {
		httputil.BadRequest(w, "direction must be IN or OUT")
		return
	}

	gate, err := s.db.GetGate(req.GateID)
	if err != nil {
		httputil.InternalServerError(w, "gate lookup failed")
		return
	}
	if gate == nil {
		httputil.NotFound(w, "unknown gate")
		return
	}
	// A device may only report for gates in its own space.
	if gate.SpaceID != device.SpaceID {
		httputil.WriteError(w, http.StatusForbidden, "gate does not belong to the device's space")
		return
	}

	ts := s.clock.Now()
	if req.Timestamp != nil {
		ts = time.Unix(*req.Timestamp, 0)
	}

	event := &db.FlowEvent{
		GateID:     gate.ID,
		SpaceID:    gate.SpaceID,
		TS:         ts,
		Direction:  direction,
		Confidence: req.Confidence,
		DurationMs: req.DurationMs,
	}
	if err := s.db.InsertFlowEvent(event); err != nil {
		monitoring.Logf("flow event insert failed: %v", err)
		httputil.InternalServerError(w, "failed to record event")
		return
	}

	if err := s.db.EnsureCounterState(gate.SpaceID); err != nil {
		monitoring.Logf("counter state ensure failed: %v", err)
		httputil.InternalServerError(w, "failed to update counter")
		return
	}

	driftCfg := s.est.ResolveThresholds(gate.SpaceID).Drift
	if direction == db.DirectionIn {
		err = s.db.IncrementCounter(gate.SpaceID, 1, ts)
	} else {
		err = s.db.DecrementCounter(gate.SpaceID, driftCfg.OutEventMultiplier, ts)
	}
	if err != nil {
		monitoring.Logf("counter update failed: %v", err)
		httputil.InternalServerError(w, "failed to update counter")
		return
	}

	net, err := s.db.NetPeopleToday(gate.SpaceID, s.dayStart(ts))
	if err != nil {
		monitoring.Logf("net tally failed: %v", err)
		httputil.InternalServerError(w, "failed to read tally")
		return
	}

	httputil.WriteSuccess(w, http.StatusCreated, flowResponse{EventID: event.ID, NetToday: net}, "event recorded")
}

type readingRequest struct {
	SensorType string  `json:"sensor_type"`
	Value      float64 `json:"value"`
	Timestamp  *int64  `json:"timestamp"`
}

// ingestReading records a microphone or PIR measurement for the device's
// space.
func (s *Server) ingestReading(w http.ResponseWriter, r *http.Request, device *db.Device) {
	var req readingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}

	sensorType := strings.ToUpper(req.SensorType)
	if sensorType != db.SensorMicrophone && sensorType != db.SensorPIR {
		httputil.BadRequest(w, "sensor_type must be MICROPHONE or PIR")
		return
	}

	ts := s.clock.Now()
	if req.Timestamp != nil {
		ts = time.Unix(*req.Timestamp, 0)
	}

	reading := &db.Reading{
		SpaceID:    device.SpaceID,
		SensorType: sensorType,
		TS:         ts,
		Value:      req.Value,
	}
	if err := s.db.InsertReading(reading); err != nil {
		monitoring.Logf("reading insert failed: %v", err)
		httputil.InternalServerError(w, "failed to record reading")
		return
	}

	httputil.WriteSuccess(w, http.StatusCreated, reading, "reading recorded")
}

type occupancyResponse struct {
	SpaceID        string     `json:"space_id"`
	HasData        bool       `json:"has_data"`
	Level          string     `json:"level"`
	PeopleEstimate int        `json:"people_estimate"`
	DisplayCount   int        `json:"display_count"`
	Method         string     `json:"method,omitempty"`
	NoiseDB        *float64   `json:"noise_db,omitempty"`
	MotionCount    *int       `json:"motion_count,omitempty"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

// currentOccupancy returns the latest snapshot for a space. A space that has
// never been evaluated gets a valid empty payload, never an error: display
// frontends poll this before the first cycle of the day.
func (s *Server) currentOccupancy(w http.ResponseWriter, r *http.Request) {
	spaceID := r.URL.Query().Get("space_id")
	if spaceID == "" {
		httputil.BadRequest(w, "space_id is required")
		return
	}

	space, err := s.db.GetSpace(spaceID)
	if err != nil {
		httputil.InternalServerError(w, "space lookup failed")
		return
	}
	if space == nil {
		httputil.NotFound(w, "unknown space")
		return
	}

	snapshot, err := s.db.LatestSnapshot(spaceID)
	if err != nil {
		httputil.InternalServerError(w, "snapshot lookup failed")
		return
	}

	resp := occupancyResponse{SpaceID: spaceID, Level: occupancy.LevelLow}
	if snapshot != nil {
		resp.HasData = true
		resp.Level = snapshot.Level
		resp.PeopleEstimate = snapshot.PeopleEstimate
		resp.DisplayCount = snapshot.DisplayCount
		resp.Method = snapshot.Method
		resp.NoiseDB = snapshot.NoiseDB
		resp.MotionCount = snapshot.MotionCount
		resp.UpdatedAt = &snapshot.TS
	}

	httputil.WriteSuccess(w, http.StatusOK, resp, "")
}

// dayStart returns local midnight for the configured timezone.
func (s *Server) dayStart(now time.Time) time.Time {
	loc := s.est.Cfg.Location()
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
