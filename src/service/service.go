package service

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mindfort/sovereign/src/engine"
)

// Service exposes a read-only HTTP API over the engine.
type Service struct {
	sync.Mutex

	bindAddress string
	engine      *engine.Engine
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, e *engine.Engine, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		engine:      e,
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

// registerHandlers registers the API handlers with the DefaultServerMux of
// the http package. It is possible that another server in the same process is
// simultaneously using the DefaultServerMux. In which case, the handlers will
// be accessible from both servers. This is useful when the engine is embedded
// and expected to use the same endpoint (address:port) as the application's
// API.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering sovereign API handlers")
	http.HandleFunc("/stats", s.makeHandler(s.GetStats))
	http.HandleFunc("/consciousness/", s.makeHandler(s.GetConsciousness))
	http.HandleFunc("/health/", s.makeHandler(s.GetHealth))
	http.HandleFunc("/pointer/", s.makeHandler(s.GetPointer))
	http.HandleFunc("/export/", s.makeHandler(s.GetExport))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Serve calls ListenAndServe. This is a blocking call. It is not necessary
// to call Serve when the engine is embedded and another server has already
// been started with the DefaultServerMux and the same address:port
// combination.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving sovereign API")

	// Use the DefaultServerMux
	err := http.ListenAndServe(s.bindAddress, nil)
	if err != nil {
		s.logger.Error(err)
	}
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.GetStats()

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(stats)
}

// GetConsciousness ...
func (s *Service) GetConsciousness(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Path[len("/consciousness/"):]

	report, err := s.engine.GetConsciousness(r.Context(), agentID)
	if err != nil {
		s.logger.WithError(err).Errorf("Evaluating consciousness of %s", agentID)

		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(report)
}

// GetHealth ...
func (s *Service) GetHealth(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Path[len("/health/"):]

	report, err := s.engine.GetHealth(r.Context(), agentID)
	if err != nil {
		s.logger.WithError(err).Errorf("Checking health of %s", agentID)

		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(report)
}

// GetPointer ...
func (s *Service) GetPointer(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Path[len("/pointer/"):]

	pointer, err := s.engine.GetPointer(r.Context(), agentID)
	if err != nil {
		s.logger.WithError(err).Errorf("Retrieving pointer of %s", agentID)

		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(pointer)
}

// GetExport ...
func (s *Service) GetExport(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Path[len("/export/"):]

	export, err := s.engine.ExportMemory(r.Context(), agentID)
	if err != nil {
		s.logger.WithError(err).Errorf("Exporting memory of %s", agentID)

		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(export)
}
