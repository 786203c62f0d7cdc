package rest

import (
	"encoding/json"
	"net/http"

	"github.com/flowmason/flowmason/logger"
	"github.com/flowmason/flowmason/model"
	"go.uber.org/zap"
)

func (s *Server) HandleChatMessage(w http.ResponseWriter, r *http.Request) {
	var req model.ChatMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid chat message payload")
		return
	}
	defer r.Body.Close()
	results, started, err := s.executionService.ActivateFromChat(req.Message, req.SessionId)
	if err != nil {
		logger.Error("error evaluating chat triggers", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error evaluating chat triggers")
		return
	}
	respondOK(w, map[string]any{
		"results":     results,
		"startedRuns": started,
	})
}
