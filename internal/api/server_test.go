package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntropism/backend/internal/attention"
	"github.com/syntropism/backend/internal/domain"
	"github.com/syntropism/backend/internal/events"
	"github.com/syntropism/backend/internal/genesis"
	"github.com/syntropism/backend/internal/ledger"
	"github.com/syntropism/backend/internal/market"
	"github.com/syntropism/backend/internal/store"
)

func newTestServer(t *testing.T) (*Server, *genesis.Genesis) {
	t.Helper()
	s := store.NewMemory()
	require.NoError(t, market.Bootstrap(context.Background(), s, nil))
	l := ledger.New(s)
	bus := events.NewBus()
	desk := market.NewDesk(s, bus)
	broker := attention.NewBroker(s, l, nil)
	gen := genesis.New(s, l, t.TempDir(), domain.SpawnCost, domain.GenesisInitialCredits)
	_, err := gen.CreateRoot(context.Background())
	require.NoError(t, err)
	return NewServer(s, l, desk, nil, broker, gen, bus), gen
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBalanceEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/economic/balance/genesis", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		AgentID string  `json:"agent_id"`
		Balance float64 `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.GenesisInitialCredits, resp.Balance)

	rec = doJSON(t, srv, http.MethodGet, "/economic/balance/nobody", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlaceBidWithInlineBundle(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/market/bid", map[string]interface{}{
		"agent_id": "genesis",
		"amount":   50,
		"bundle": map[string]interface{}{
			"cpu_percent":      0.5,
			"duration_seconds": 30,
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var bid domain.Bid
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bid))
	assert.Equal(t, domain.BidPending, bid.Status)
	assert.NotEmpty(t, bid.BundleID)
}

func TestPlaceBidErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t)

	// Missing bundle entirely.
	rec := doJSON(t, srv, http.MethodPost, "/market/bid", map[string]interface{}{
		"agent_id": "genesis",
		"amount":   50,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown agent.
	rec = doJSON(t, srv, http.MethodPost, "/market/bid", map[string]interface{}{
		"agent_id": "nobody",
		"amount":   50,
		"bundle":   map[string]interface{}{"cpu_percent": 0.5, "duration_seconds": 30},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Bid above balance.
	rec = doJSON(t, srv, http.MethodPost, "/market/bid", map[string]interface{}{
		"agent_id": "genesis",
		"amount":   1e9,
		"bundle":   map[string]interface{}{"cpu_percent": 0.5, "duration_seconds": 30},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Malformed body.
	req := httptest.NewRequest(http.MethodPost, "/market/bid", bytes.NewBufferString("{nope"))
	rec2 := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusBadRequest, rec2.Code)
}

func TestPricesEndpointFallsBackToStore(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/market/prices", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Prices map[string]float64 `json:"prices"`
		Source string             `json:"source"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "store", resp.Source)
	assert.Len(t, resp.Prices, 4)
}

func TestTransferEndpoint(t *testing.T) {
	srv, gen := newTestServer(t)
	child, err := gen.SpawnChild(context.Background(), domain.GenesisAgentID, 0, nil)
	require.NoError(t, err)

	rec := doJSON(t, srv, http.MethodPost, "/economic/transfer", map[string]interface{}{
		"from_entity": "genesis",
		"to_entity":   child.ID,
		"amount":      25,
		"memo":        "allowance",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/economic/balance/"+child.ID, nil)
	var resp struct {
		Balance float64 `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 25.0, resp.Balance)

	// Invalid amount maps to 400.
	rec = doJSON(t, srv, http.MethodPost, "/economic/transfer", map[string]interface{}{
		"from_entity": "genesis",
		"to_entity":   child.ID,
		"amount":      -1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSpawnEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/social/spawn", map[string]interface{}{
		"parent_id":       "genesis",
		"initial_credits": 100,
		"payload":         map[string]string{"main.py": "print(1)"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var child domain.Agent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &child))
	assert.Equal(t, 100.0, child.Balance)
	assert.Equal(t, []string{"genesis"}, child.Lineage)

	// Overdrawn spawn maps to 400.
	rec = doJSON(t, srv, http.MethodPost, "/social/spawn", map[string]interface{}{
		"parent_id":       "genesis",
		"initial_credits": 1e9,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessageEndpoint(t *testing.T) {
	srv, gen := newTestServer(t)
	child, err := gen.SpawnChild(context.Background(), domain.GenesisAgentID, 0, nil)
	require.NoError(t, err)

	rec := doJSON(t, srv, http.MethodPost, "/social/message", map[string]interface{}{
		"from_agent_id": "genesis",
		"to_agent_id":   child.ID,
		"content":       "welcome",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/social/message", map[string]interface{}{
		"from_agent_id": "genesis",
		"to_agent_id":   "nobody",
		"content":       "void",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHumanEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	// Build an execution with attention via the stores behind the server.
	// Prompt submission without one is a 400.
	rec := doJSON(t, srv, http.MethodPost, "/human/prompt", map[string]interface{}{
		"agent_id":     "genesis",
		"execution_id": "missing",
		"bid_amount":   5,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/human/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending struct {
		Prompts []*domain.Prompt `json:"prompts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	assert.Empty(t, pending.Prompts)

	// Rewarding a missing prompt is a 404; invalid scores a 400.
	rec = doJSON(t, srv, http.MethodPost, "/human/reward", map[string]interface{}{
		"prompt_id": "missing", "interesting": 5, "useful": 5, "understandable": 5,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doJSON(t, srv, http.MethodPost, "/human/reward", map[string]interface{}{
		"prompt_id": "missing", "interesting": 11, "useful": 5, "understandable": 5,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
