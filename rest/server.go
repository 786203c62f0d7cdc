package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/flowmason/flowmason/flow"
	"github.com/flowmason/flowmason/logger"
	"github.com/flowmason/flowmason/metadata"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type Server struct {
	http.Server
	Port             int
	metadataService  *metadata.Service
	executionService *flow.ExecutionService
}

func NewServer(httpPort int, metadataService *metadata.Service, executionService *flow.ExecutionService) (*Server, error) {
	s := &Server{
		Server: http.Server{
			Addr: fmt.Sprintf(":%d", httpPort),
		},
		Port:             httpPort,
		metadataService:  metadataService,
		executionService: executionService,
	}
	router := mux.NewRouter()
	router.HandleFunc("/workflow", s.HandlePublishWorkflow).Methods(http.MethodPost)
	router.HandleFunc("/workflow/{name}", s.HandleGetWorkflow).Methods(http.MethodGet)
	router.HandleFunc("/workflow/{name}", s.HandleDeleteWorkflow).Methods(http.MethodDelete)
	router.HandleFunc("/run", s.HandleStartRun).Methods(http.MethodPost)
	router.HandleFunc("/run/{id}", s.HandleGetRun).Methods(http.MethodGet)
	router.HandleFunc("/run/{id}", s.HandleDeleteRun).Methods(http.MethodDelete)
	router.HandleFunc("/run/{id}/events", s.HandleListEvents).Methods(http.MethodGet)
	router.HandleFunc("/run/{id}/pause", s.HandlePauseRun).Methods(http.MethodPost)
	router.HandleFunc("/run/{id}/resume", s.HandleResumeRun).Methods(http.MethodPost)
	router.HandleFunc("/run/{id}/cancel", s.HandleCancelRun).Methods(http.MethodPost)
	router.HandleFunc("/chat", s.HandleChatMessage).Methods(http.MethodPost)
	router.Use(loggingMiddleware)
	s.Handler = router
	return s, nil
}

func (s *Server) Start() error {
	logger.Info("starting http server", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.Shutdown(ctx)
	if err != nil {
		logger.Error("error shutting down http server", zap.Error(err))
	}
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info(r.RequestURI)
		next.ServeHTTP(w, r)
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondOK(w http.ResponseWriter, payload interface{}) {
	respondWithJSON(w, http.StatusOK, payload)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
