// Package api exposes the economy over REST/JSON plus an SSE event stream.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/syntropism/backend/internal/attention"
	"github.com/syntropism/backend/internal/domain"
	"github.com/syntropism/backend/internal/events"
	"github.com/syntropism/backend/internal/genesis"
	"github.com/syntropism/backend/internal/ledger"
	"github.com/syntropism/backend/internal/market"
	"github.com/syntropism/backend/internal/store"
)

// Server wires the REST surface over the core components.
type Server struct {
	store   store.Store
	ledger  *ledger.Ledger
	desk    *market.Desk
	cache   *market.PriceCache // optional
	broker  *attention.Broker
	genesis *genesis.Genesis
	bus     *events.Bus
	logger  *log.Logger
}

func NewServer(s store.Store, l *ledger.Ledger, desk *market.Desk, cache *market.PriceCache, broker *attention.Broker, gen *genesis.Genesis, bus *events.Bus) *Server {
	return &Server{
		store:   s,
		ledger:  l,
		desk:    desk,
		cache:   cache,
		broker:  broker,
		genesis: gen,
		bus:     bus,
		logger:  log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	// CORS Middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.HandleFunc("/market/bid", s.handlePlaceBid).Methods("POST")
	r.HandleFunc("/market/prices", s.handlePrices).Methods("GET")

	r.HandleFunc("/economic/balance/{agent_id}", s.handleBalance).Methods("GET")
	r.HandleFunc("/economic/transfer", s.handleTransfer).Methods("POST")
	r.HandleFunc("/economic/history/{entity_id}", s.handleHistory).Methods("GET")

	r.HandleFunc("/human/prompt", s.handleSubmitPrompt).Methods("POST")
	r.HandleFunc("/human/reward", s.handleReward).Methods("POST")
	r.HandleFunc("/human/pending", s.handlePending).Methods("GET")

	r.HandleFunc("/social/spawn", s.handleSpawn).Methods("POST")
	r.HandleFunc("/social/message", s.handleMessage).Methods("POST")

	r.HandleFunc("/events/stream", s.handleEventStream).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealthz).Methods("GET")

	return r
}

// Start blocks serving the router on the port.
func (s *Server) Start(port string) error {
	s.logger.Printf("🚀 API listening on :%s", port)
	return http.ListenAndServe(":"+port, s.Router())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain sentinels onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidScore),
		errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrInvalidState):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrStorage):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}
