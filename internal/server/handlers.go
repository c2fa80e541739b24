package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"

	"stratbook/internal/event"
	"stratbook/internal/snapshot"
)

var errStatusUnavailable = errors.New("strat status not available")

type stateConflictError struct {
	from, to event.StratState
}

func (e *stateConflictError) Error() string {
	return fmt.Sprintf("cannot transition from %s to %s", e.from, e.to)
}

// registerRoutes wires the JSON read and admin routes onto the gateway mux.
// Reads serve straight from the cache: the cascade is write-through, so the
// cache is never behind the store.
func (s *Server) registerRoutes(mux *runtime.ServeMux) error {
	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{http.MethodGet, "/v1/strat/status", s.getStatus},
		{http.MethodGet, "/v1/strat/brief", s.getBrief},
		{http.MethodGet, "/v1/strat/limits", s.getLimits},
		{http.MethodGet, "/v1/orders/{order_id}", s.getOrder},
		{http.MethodGet, "/v1/symbol-sides/{security}/{side}", s.getSymbolSide},
		{http.MethodPost, "/v1/admin/pause", s.adminPause},
		{http.MethodPost, "/v1/admin/resume", s.adminResume},
	}

	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.handler); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	status := s.deps.Cache.GetStratStatus()
	if status == nil {
		writeError(w, http.StatusNotFound, "strat status not available")
		return
	}
	writeJSON(w, status)
}

func (s *Server) getBrief(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	brief := s.deps.Cache.GetStratBrief()
	if brief == nil {
		writeError(w, http.StatusNotFound, "strat brief not available")
		return
	}
	writeJSON(w, brief)
}

func (s *Server) getLimits(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	limits := s.deps.Cache.GetStratLimits()
	if limits == nil {
		writeError(w, http.StatusNotFound, "strat limits not available")
		return
	}
	writeJSON(w, limits)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	o := s.deps.Cache.GetOrderSnapshot(pathParams["order_id"])
	if o == nil {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, o)
}

func (s *Server) getSymbolSide(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	side := event.ParseSide(pathParams["side"])
	if side == event.SideUnspecified {
		writeError(w, http.StatusBadRequest, "side must be BUY or SELL")
		return
	}
	ss := s.deps.Cache.GetSymbolSideSnapshot(pathParams["security"], side)
	if ss == nil {
		writeError(w, http.StatusNotFound, "symbol side not found")
		return
	}
	writeJSON(w, ss)
}

type adminPauseRequest struct {
	Reason string `json:"reason"`
}

// adminPause forces the strategy into PAUSED. Taken under the engine lock
// so it lands between cascades, never inside one.
func (s *Server) adminPause(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req adminPauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	if req.Reason == "" {
		req.Reason = "operator pause"
	}
	if err := s.setStratState(r.Context(), event.StratStatePaused, event.StratStateUnspecified); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.deps.Log.Warn().Str("reason", req.Reason).Msg("strategy paused by operator")
	writeJSON(w, map[string]string{"state": event.StratStatePaused.String()})
}

// adminResume moves a PAUSED strategy back to ACTIVE.
func (s *Server) adminResume(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if err := s.setStratState(r.Context(), event.StratStateActive, event.StratStatePaused); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.deps.Log.Info().Msg("strategy resumed by operator")
	writeJSON(w, map[string]string{"state": event.StratStateActive.String()})
}

// setStratState writes the state through store and cache under the engine
// lock. A non-zero requiredFrom restricts the transition source.
func (s *Server) setStratState(ctx context.Context, to, requiredFrom event.StratState) error {
	s.deps.Engine.Lock()
	defer s.deps.Engine.Unlock()

	status := s.deps.Cache.GetStratStatus()
	if status == nil {
		return errStatusUnavailable
	}
	if requiredFrom != event.StratStateUnspecified && status.State != requiredFrom {
		return &stateConflictError{from: status.State, to: to}
	}

	delta := snapshot.StratStatusDelta{
		State:          snapshot.State(to),
		LastUpdateTime: snapshot.Time(time.Now()),
	}
	if err := s.deps.Store.UpdateStratStatus(ctx, status.ID, delta); err != nil {
		return err
	}
	delta.Apply(status)
	s.deps.Cache.PutStratStatus(status)
	return nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
