package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/syntropism/backend/internal/domain"
	"github.com/syntropism/backend/internal/market"
	"github.com/syntropism/backend/internal/store"
)

// --- market ---

type bidRequest struct {
	AgentID string  `json:"agent_id"`
	Amount  float64 `json:"amount"`
	// Either an existing bundle id or an inline bundle definition.
	BundleID string                `json:"bundle_id,omitempty"`
	Bundle   *market.BundleRequest `json:"bundle,omitempty"`
}

func (s *Server) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	var req bidRequest
	if !decodeBody(w, r, &req) {
		return
	}

	bundleID := req.BundleID
	if bundleID == "" {
		if req.Bundle == nil {
			writeError(w, fmt.Errorf("%w: bid needs a bundle_id or an inline bundle", domain.ErrInvalidState))
			return
		}
		bundle, err := s.desk.CreateBundle(r.Context(), req.Bundle)
		if err != nil {
			writeError(w, err)
			return
		}
		bundleID = bundle.ID
	}

	bid, err := s.desk.PlaceBid(r.Context(), req.AgentID, bundleID, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	// Snapshot cache first; the store is the fallback, not the other way
	// around, so a hot read path never touches Postgres.
	if s.cache != nil {
		if prices, err := s.cache.Get(r.Context()); err == nil && len(prices) > 0 {
			writeJSON(w, http.StatusOK, map[string]interface{}{"prices": prices, "source": "cache"})
			return
		}
	}
	prices, err := s.desk.Prices(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"prices": prices, "source": "store"})
}

// --- economy ---

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agent_id"]
	balance, err := s.ledger.Balance(r.Context(), agentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"agent_id": agentID, "balance": balance})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromEntity string  `json:"from_entity"`
		ToEntity   string  `json:"to_entity"`
		Amount     float64 `json:"amount"`
		Memo       string  `json:"memo"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.ledger.TransferCtx(r.Context(), req.FromEntity, req.ToEntity, req.Amount, req.Memo); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entityID := mux.Vars(r)["entity_id"]
	history, err := s.ledger.History(r.Context(), entityID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entity_id": entityID, "transactions": history})
}

// --- attention ---

func (s *Server) handleSubmitPrompt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID     string                 `json:"agent_id"`
		ExecutionID string                 `json:"execution_id"`
		Content     map[string]interface{} `json:"content"`
		BidAmount   float64                `json:"bid_amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	prompt, err := s.broker.SubmitPrompt(r.Context(), req.AgentID, req.ExecutionID, req.Content, req.BidAmount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, prompt)
}

func (s *Server) handleReward(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PromptID       string  `json:"prompt_id"`
		Interesting    float64 `json:"interesting"`
		Useful         float64 `json:"useful"`
		Understandable float64 `json:"understandable"`
		Reason         string  `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	response, err := s.broker.Reward(r.Context(), req.PromptID, req.Interesting, req.Useful, req.Understandable, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	prompts, err := s.broker.Pending(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"prompts": prompts})
}

// --- social ---

func (s *Server) handleSpawn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParentID       string            `json:"parent_id"`
		InitialCredits float64           `json:"initial_credits"`
		Payload        map[string]string `json:"payload"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	child, err := s.genesis.SpawnChild(r.Context(), req.ParentID, req.InitialCredits, req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, child)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromAgentID string `json:"from_agent_id"`
		ToAgentID   string `json:"to_agent_id"`
		Content     string `json:"content"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	msg := &domain.Message{
		ID:          uuid.New().String(),
		FromAgentID: req.FromAgentID,
		ToAgentID:   req.ToAgentID,
		Content:     req.Content,
		Timestamp:   time.Now().UTC(),
	}
	err := s.store.WithTx(r.Context(), func(tx store.Tx) error {
		if _, err := tx.GetAgent(req.FromAgentID); err != nil {
			return err
		}
		if _, err := tx.GetAgent(req.ToAgentID); err != nil {
			return err
		}
		return tx.InsertMessage(msg)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
