package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"

	"github.com/banshee-data/pointmatch/internal/config"
	"github.com/banshee-data/pointmatch/internal/db"
	"github.com/banshee-data/pointmatch/internal/httputil"
	"github.com/banshee-data/pointmatch/internal/match"
	"github.com/banshee-data/pointmatch/internal/monitoring"
	"github.com/banshee-data/pointmatch/internal/transformio"
	"github.com/banshee-data/pointmatch/internal/version"
)

// matchRequest is the POST /api/match body. model and space use the
// transform file shapes; the remaining fields override server defaults.
type matchRequest struct {
	Model json.RawMessage `json:"model"`
	Space json.RawMessage `json:"space"`

	Tolerance    *float64 `json:"tolerance,omitempty"`
	Index        *string  `json:"index,omitempty"`
	GridCellSize *float64 `json:"grid_cell_size,omitempty"`
	Workers      *int     `json:"workers,omitempty"`
	EmptyModel   *string  `json:"empty_model,omitempty"`
	Format       *string  `json:"format,omitempty"`
	Persist      *bool    `json:"persist,omitempty"`
}

func (req *matchRequest) overrides() *config.MatchConfig {
	return &config.MatchConfig{
		Tolerance:    req.Tolerance,
		Index:        req.Index,
		GridCellSize: req.GridCellSize,
		Workers:      req.Workers,
		EmptyModel:   req.EmptyModel,
		OutputFormat: req.Format,
		Persist:      req.Persist,
	}
}

type matchResponse struct {
	RunID        string          `json:"run_id,omitempty"`
	Matches      json.RawMessage `json:"matches"`
	SpaceIndices []int           `json:"space_indices"`
	ModelCount   int             `json:"model_count"`
	SpaceCount   int             `json:"space_count"`
	Tolerance    float64         `json:"tolerance"`
	Index        string          `json:"index"`
	Workers      int             `json:"workers"`
	ElapsedMs    float64         `json:"elapsed_ms"`
}

func newMatchResponse(res *match.Result, runID string, f transformio.Format) (*matchResponse, error) {
	matches, err := transformio.Marshal(res.Matches.Transforms(), f)
	if err != nil {
		return nil, err
	}
	return &matchResponse{
		RunID:        runID,
		Matches:      matches,
		SpaceIndices: res.Matches.Indices(),
		ModelCount:   res.ModelCount,
		SpaceCount:   res.SpaceCount,
		Tolerance:    res.Tolerance,
		Index:        string(res.Index),
		Workers:      res.Workers,
		ElapsedMs:    float64(res.Elapsed.Nanoseconds()) / 1e6,
	}, nil
}

// maxRequestWorkers bounds the goroutines one request may start.
func maxRequestWorkers() int {
	return runtime.GOMAXPROCS(0)
}

// writeMatchError maps engine and decoding errors onto status codes.
func writeMatchError(w http.ResponseWriter, err error) {
	var ve *match.InputValidationError
	if errors.As(err, &ve) {
		body := httputil.ErrorBody{Error: ve.Error(), Input: ve.Input}
		if ve.Index >= 0 {
			idx := ve.Index
			body.Index = &idx
		}
		httputil.WriteJSON(w, http.StatusBadRequest, body)
		return
	}
	httputil.InternalServerError(w, err.Error())
}

func (s *Server) runMatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}

	var req matchRequest
	if err := httputil.DecodeJSON(w, r, &req, 0); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.Model == nil || req.Space == nil {
		httputil.BadRequest(w, "model and space are required")
		return
	}

	cfg := &config.MatchConfig{}
	cfg.Merge(s.cfg)
	cfg.Merge(req.overrides())
	if err := cfg.Validate(); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if n := maxRequestWorkers(); cfg.GetWorkers() > n {
		cfg.Workers = &n
	}

	if cfg.GetPersist() && s.store == nil {
		httputil.BadRequest(w, "persist requested but no database is attached")
		return
	}

	model, err := transformio.UnmarshalInput(match.InputModel, req.Model)
	if err != nil {
		writeMatchError(w, err)
		return
	}
	space, err := transformio.UnmarshalInput(match.InputSpace, req.Space)
	if err != nil {
		writeMatchError(w, err)
		return
	}

	res, err := match.NewEngine(cfg.EngineOptions()).FindMatchesContext(r.Context(), model, space, cfg.GetTolerance())
	if err != nil {
		writeMatchError(w, err)
		return
	}

	var runID string
	if cfg.GetPersist() {
		run, err := s.store.InsertRun(r.Context(), res, cfg)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to persist run: %v", err))
			return
		}
		runID = run.ID
	}

	s.SetResult(res, runID)
	monitoring.Logf("match: %d of %d space transforms matched (model %d, tolerance %g, index %s)",
		len(res.Matches), res.SpaceCount, res.ModelCount, res.Tolerance, res.Index)

	resp, err := newMatchResponse(res, runID, cfg.GetOutputFormat())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) showMatches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	res, runID := s.latest()
	if res == nil {
		httputil.NotFound(w, "no match has been run yet")
		return
	}
	resp, err := newMatchResponse(res, runID, s.outputFormat())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, resp)
}

type cycleResponse struct {
	Ordinal    int             `json:"ordinal"`
	Count      int             `json:"count"`
	SpaceIndex int             `json:"space_index"`
	Transform  json.RawMessage `json:"transform"`
	AnimateMs  int64           `json:"animate_ms"`
	DwellMs    int64           `json:"dwell_ms"`
}

func (s *Server) cycleNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	ordinal, m, ok := s.cycler.Next()
	if !ok {
		httputil.NotFound(w, "no matches to cycle")
		return
	}
	data, err := transformio.Marshal(match.MatchList{m}.Transforms(), s.outputFormat())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	// Marshal produces a one-element array; unwrap it.
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil || len(records) != 1 {
		httputil.InternalServerError(w, "failed to encode transform")
		return
	}
	httputil.WriteJSONOK(w, cycleResponse{
		Ordinal:    ordinal,
		Count:      s.cycler.Len(),
		SpaceIndex: m.SpaceIndex,
		Transform:  records[0],
		AnimateMs:  s.cfg.GetCycleAnimate().Milliseconds(),
		DwellMs:    s.cfg.GetCycleDwell().Milliseconds(),
	})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.store == nil {
		httputil.NotFound(w, "run persistence is not enabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httputil.BadRequest(w, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, runs)
}

type runResponse struct {
	*db.Run
	Matches      json.RawMessage `json:"matches"`
	SpaceIndices []int           `json:"space_indices"`
}

func (s *Server) showRun(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodDelete:
	default:
		httputil.MethodNotAllowed(w, http.MethodGet, http.MethodDelete)
		return
	}
	if s.store == nil {
		httputil.NotFound(w, "run persistence is not enabled")
		return
	}
	id := r.PathValue("id")

	if r.Method == http.MethodDelete {
		if err := s.store.DeleteRun(r.Context(), id); err != nil {
			writeRunError(w, id, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		writeRunError(w, id, err)
		return
	}
	matches, err := s.store.ListMatches(r.Context(), id)
	if err != nil {
		writeRunError(w, id, err)
		return
	}
	data, err := transformio.Marshal(matches.Transforms(), s.outputFormat())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, runResponse{Run: run, Matches: data, SpaceIndices: matches.Indices()})
}

func writeRunError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, db.ErrRunNotFound) {
		httputil.NotFound(w, fmt.Sprintf("run %s not found", id))
		return
	}
	httputil.InternalServerError(w, err.Error())
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, version.Get())
}
