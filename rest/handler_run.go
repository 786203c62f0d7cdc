package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/flowmason/flowmason/flow"
	"github.com/flowmason/flowmason/logger"
	"github.com/flowmason/flowmason/model"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func (s *Server) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	var req model.RunWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid run request payload")
		return
	}
	defer r.Body.Close()
	runId, err := s.executionService.StartRun(req.Name, req.SessionId, req.Input)
	if err != nil {
		logger.Error("error starting run", zap.String("name", req.Name), zap.Error(err))
		respondWithError(w, http.StatusBadRequest, "error starting run")
		return
	}
	respondOK(w, map[string]string{"runId": runId})
}

func (s *Server) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	runId := mux.Vars(r)["id"]
	run, err := s.executionService.GetRun(runId)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "run not found")
		return
	}
	respondOK(w, run)
}

func (s *Server) HandleDeleteRun(w http.ResponseWriter, r *http.Request) {
	runId := mux.Vars(r)["id"]
	if err := s.executionService.DeleteRun(runId); err != nil {
		s.respondTransitionError(w, runId, "delete", err)
		return
	}
	respondOK(w, map[string]string{"message": "deleted"})
}

func (s *Server) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	runId := mux.Vars(r)["id"]
	var since time.Time
	if raw := r.URL.Query().Get("since"); len(raw) > 0 {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		since = parsed
	}
	events, err := s.executionService.ListEvents(runId, since)
	if err != nil {
		logger.Error("error listing events", zap.String("runId", runId), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error listing events")
		return
	}
	respondOK(w, events)
}

func (s *Server) HandlePauseRun(w http.ResponseWriter, r *http.Request) {
	runId := mux.Vars(r)["id"]
	if err := s.executionService.PauseRun(runId); err != nil {
		s.respondTransitionError(w, runId, "pause", err)
		return
	}
	respondOK(w, map[string]string{"message": "paused"})
}

func (s *Server) HandleResumeRun(w http.ResponseWriter, r *http.Request) {
	runId := mux.Vars(r)["id"]
	var answer map[string]any
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&answer)
		defer r.Body.Close()
	}
	if err := s.executionService.ResumeRun(runId, answer); err != nil {
		s.respondTransitionError(w, runId, "resume", err)
		return
	}
	respondOK(w, map[string]string{"message": "resumed"})
}

func (s *Server) HandleCancelRun(w http.ResponseWriter, r *http.Request) {
	runId := mux.Vars(r)["id"]
	if err := s.executionService.CancelRun(runId); err != nil {
		s.respondTransitionError(w, runId, "cancel", err)
		return
	}
	respondOK(w, map[string]string{"message": "cancelled"})
}

func (s *Server) respondTransitionError(w http.ResponseWriter, runId string, action string, err error) {
	var transitionErr *flow.InvalidTransitionError
	if errors.As(err, &transitionErr) {
		respondWithError(w, http.StatusConflict, transitionErr.Error())
		return
	}
	logger.Error("error acting on run", zap.String("runId", runId), zap.String("action", action), zap.Error(err))
	respondWithError(w, http.StatusBadRequest, "error acting on run")
}
