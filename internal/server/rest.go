package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/lastecho/internal/calibration"
	"github.com/MrWong99/lastecho/internal/combat"
	"github.com/MrWong99/lastecho/internal/lexicon"
	"github.com/MrWong99/lastecho/internal/observe"
)

// maxBodyBytes bounds REST request bodies.
const maxBodyBytes = 16 << 10

type catalogResponse struct {
	Version  string            `json:"version"`
	Novice   []lexicon.Keyword `json:"novice"`
	Ultimate []lexicon.Keyword `json:"ultimate"`
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	c := s.deps.Catalog.Current()
	writeJSON(w, http.StatusOK, catalogResponse{
		Version:  c.Version(),
		Novice:   c.Novice(),
		Ultimate: c.Ultimate(),
	})
}

func (s *Server) handleMonsters(w http.ResponseWriter, _ *http.Request) {
	all := s.deps.Roster.All()
	out := make([]monsterView, 0, len(all))
	for _, m := range all {
		out = append(out, newMonsterView(m, m.MaxHP()))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTrials(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.trials.Load().All())
}

func (s *Server) handleGetPlayer(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Progress.Get(r.Context(), r.PathValue("userID"))
	if err != nil {
		observe.Logger(r.Context()).Error("load player", "err", err)
		writeError(w, http.StatusServiceUnavailable, "player store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetCalibration(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Calibration.Load(r.Context(), r.PathValue("userID"))
	switch {
	case errors.Is(err, calibration.ErrNotFound):
		writeError(w, http.StatusNotFound, "user has not calibrated")
	case err != nil:
		observe.Logger(r.Context()).Error("load calibration", "err", err)
		writeError(w, http.StatusServiceUnavailable, "calibration store unavailable")
	default:
		writeJSON(w, http.StatusOK, p)
	}
}

type calibrationRequest struct {
	BaselineDB *float64 `json:"baseline_db"`
	Samples    int      `json:"samples"`
}

func (s *Server) handlePutCalibration(w http.ResponseWriter, r *http.Request) {
	var req calibrationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.BaselineDB == nil {
		writeError(w, http.StatusBadRequest, "baseline_db is required")
		return
	}
	p := calibration.Profile{
		BaselineDB: *req.BaselineDB,
		MeasuredAt: time.Now().UTC(),
		Samples:    req.Samples,
	}
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID := r.PathValue("userID")
	if err := s.deps.Calibration.Save(r.Context(), userID, p); err != nil {
		observe.Logger(r.Context()).Error("save calibration", "user_id", userID, "err", err)
		writeError(w, http.StatusServiceUnavailable, "calibration store unavailable")
		return
	}
	slog.Info("baseline calibrated", "user_id", userID, "baseline_db", p.BaselineDB)
	writeJSON(w, http.StatusOK, p)
}

type classRequest struct {
	Class string `json:"class"`
}

func (s *Server) handleSetClass(w http.ResponseWriter, r *http.Request) {
	var req classRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := combat.ParseClass(req.Class); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.deps.Progress.SetClass(r.Context(), r.PathValue("userID"), req.Class)
	if err != nil {
		observe.Logger(r.Context()).Error("set class", "err", err)
		writeError(w, http.StatusServiceUnavailable, "player store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// resolveRequest asks for a stateless resolution of one attack. A missing
// baseline uses the caller's stored calibration when user_id is set and the
// server default otherwise.
type resolveRequest struct {
	UserID     string   `json:"user_id,omitempty"`
	Transcript string   `json:"transcript"`
	PeakLevel  float64  `json:"peak_level"`
	BaselineDB *float64 `json:"baseline_db,omitempty"`
	Class      string   `json:"class,omitempty"`
	Mobile     bool     `json:"mobile"`
	Target     string   `json:"target,omitempty"`
	Echo       bool     `json:"echo"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.PeakLevel < 0 || req.PeakLevel > 100 {
		writeError(w, http.StatusBadRequest, "peak_level must be within [0, 100]")
		return
	}

	baseline := s.baseline
	switch {
	case req.BaselineDB != nil:
		baseline = *req.BaselineDB
	case req.UserID != "":
		b, err := calibration.BaselineFor(r.Context(), s.deps.Calibration, req.UserID, s.baseline)
		if err != nil {
			observe.Logger(r.Context()).Warn("calibration unavailable, using default baseline", "err", err)
		}
		baseline = b
	}

	in := combat.Input{
		PeakLevel:  req.PeakLevel,
		BaselineDB: baseline,
		Transcript: req.Transcript,
		Class:      combat.Class(req.Class),
		Mobile:     req.Mobile,
	}
	res := s.resolve(r.Context(), in, req.Target, req.Echo)
	writeJSON(w, http.StatusOK, newResultPayload(res))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "err", err)
	}
}
