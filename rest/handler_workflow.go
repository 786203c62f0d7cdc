package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/flowmason/flowmason/compiler"
	"github.com/flowmason/flowmason/logger"
	"github.com/flowmason/flowmason/model"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func (s *Server) HandlePublishWorkflow(w http.ResponseWriter, r *http.Request) {
	var def model.WorkflowDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid workflow definition payload")
		return
	}
	defer r.Body.Close()
	report, err := s.metadataService.Publish(def)
	if err != nil {
		var validationErr *compiler.ValidationError
		if errors.As(err, &validationErr) {
			respondWithJSON(w, http.StatusBadRequest, report)
			return
		}
		logger.Error("error publishing workflow", zap.String("name", def.Name), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error publishing workflow")
		return
	}
	respondOK(w, report)
}

func (s *Server) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	def, err := s.metadataService.Get(name)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "workflow not found")
		return
	}
	respondOK(w, def)
}

func (s *Server) HandleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.metadataService.Delete(name); err != nil {
		logger.Error("error deleting workflow", zap.String("name", name), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error deleting workflow")
		return
	}
	respondOK(w, map[string]string{"message": "deleted"})
}
