package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/syntropism/backend/internal/domain"
)

// Memory is the in-process store backend. Transactions run under one big
// lock against a deep copy of the state; the copy is swapped in only when
// fn succeeds, so aborts leave no partial writes. Every read hands out a
// copy, matching the row-scan semantics of the Postgres backend.
type Memory struct {
	mu    sync.Mutex
	state *memState
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{state: newMemState()}
}

func (m *Memory) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return domain.StorageError(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(&memTx{s: work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *Memory) Close() error { return nil }

type memState struct {
	agents       map[string]*domain.Agent
	workspaces   map[string]*domain.Workspace
	transactions []*domain.Transaction
	bundles      map[string]*domain.ResourceBundle
	bids         map[string]*domain.Bid
	executions   map[string]*domain.Execution
	markets      map[domain.ResourceType]*domain.MarketState
	prompts      map[string]*domain.Prompt
	responses    map[string]*domain.Response // keyed by prompt id
	messages     []*domain.Message
}

func newMemState() *memState {
	return &memState{
		agents:     make(map[string]*domain.Agent),
		workspaces: make(map[string]*domain.Workspace),
		bundles:    make(map[string]*domain.ResourceBundle),
		bids:       make(map[string]*domain.Bid),
		executions: make(map[string]*domain.Execution),
		markets:    make(map[domain.ResourceType]*domain.MarketState),
		prompts:    make(map[string]*domain.Prompt),
		responses:  make(map[string]*domain.Response),
	}
}

// --- per-entity deep copies ---

func copyAgent(a *domain.Agent) *domain.Agent {
	cp := *a
	cp.Lineage = append([]string(nil), a.Lineage...)
	if a.LastExecutionAt != nil {
		t := *a.LastExecutionAt
		cp.LastExecutionAt = &t
	}
	return &cp
}

func copyWorkspace(w *domain.Workspace) *domain.Workspace {
	cp := *w
	return &cp
}

func copyTransaction(t *domain.Transaction) *domain.Transaction {
	cp := *t
	return &cp
}

func copyBundle(b *domain.ResourceBundle) *domain.ResourceBundle {
	cp := *b
	return &cp
}

func copyBid(b *domain.Bid) *domain.Bid {
	cp := *b
	return &cp
}

func copyExecution(e *domain.Execution) *domain.Execution {
	cp := *e
	if e.EndTime != nil {
		t := *e.EndTime
		cp.EndTime = &t
	}
	if e.ExitCode != nil {
		ec := *e.ExitCode
		cp.ExitCode = &ec
	}
	return &cp
}

func copyMarketState(ms *domain.MarketState) *domain.MarketState {
	cp := *ms
	return &cp
}

func copyPrompt(p *domain.Prompt) *domain.Prompt {
	cp := *p
	cp.Content = make(map[string]interface{}, len(p.Content))
	for k, v := range p.Content {
		cp.Content[k] = v
	}
	return &cp
}

func copyResponse(r *domain.Response) *domain.Response {
	cp := *r
	return &cp
}

func copyMessage(m *domain.Message) *domain.Message {
	cp := *m
	return &cp
}

func (s *memState) clone() *memState {
	c := newMemState()
	for id, a := range s.agents {
		c.agents[id] = copyAgent(a)
	}
	for id, w := range s.workspaces {
		c.workspaces[id] = copyWorkspace(w)
	}
	c.transactions = make([]*domain.Transaction, len(s.transactions))
	for i, t := range s.transactions {
		c.transactions[i] = copyTransaction(t)
	}
	for id, b := range s.bundles {
		c.bundles[id] = copyBundle(b)
	}
	for id, b := range s.bids {
		c.bids[id] = copyBid(b)
	}
	for id, e := range s.executions {
		c.executions[id] = copyExecution(e)
	}
	for kind, ms := range s.markets {
		c.markets[kind] = copyMarketState(ms)
	}
	for id, p := range s.prompts {
		c.prompts[id] = copyPrompt(p)
	}
	for id, r := range s.responses {
		c.responses[id] = copyResponse(r)
	}
	c.messages = make([]*domain.Message, len(s.messages))
	for i, msg := range s.messages {
		c.messages[i] = copyMessage(msg)
	}
	return c
}

func duplicate(kind, id string) error {
	return domain.StorageError(fmt.Errorf("%s %s already exists", kind, id))
}

// memTx satisfies Tx directly against the working copy. ForUpdate variants
// are identical to plain reads: the store-wide lock already serializes.
type memTx struct {
	s *memState
}

func (t *memTx) InsertAgent(a *domain.Agent) error {
	if _, ok := t.s.agents[a.ID]; ok {
		return duplicate("agent", a.ID)
	}
	t.s.agents[a.ID] = copyAgent(a)
	return nil
}

func (t *memTx) GetAgent(id string) (*domain.Agent, error) {
	a, ok := t.s.agents[id]
	if !ok {
		return nil, domain.NotFound("agent", id)
	}
	return copyAgent(a), nil
}

func (t *memTx) GetAgentForUpdate(id string) (*domain.Agent, error) {
	return t.GetAgent(id)
}

func (t *memTx) UpdateAgent(a *domain.Agent) error {
	if _, ok := t.s.agents[a.ID]; !ok {
		return domain.NotFound("agent", a.ID)
	}
	t.s.agents[a.ID] = copyAgent(a)
	return nil
}

func (t *memTx) ListAgentsByStatus(status domain.AgentStatus) ([]*domain.Agent, error) {
	var out []*domain.Agent
	for _, a := range t.s.agents {
		if a.Status == status {
			out = append(out, copyAgent(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) InsertWorkspace(w *domain.Workspace) error {
	if _, ok := t.s.workspaces[w.ID]; ok {
		return duplicate("workspace", w.ID)
	}
	t.s.workspaces[w.ID] = copyWorkspace(w)
	return nil
}

func (t *memTx) GetWorkspace(id string) (*domain.Workspace, error) {
	w, ok := t.s.workspaces[id]
	if !ok {
		return nil, domain.NotFound("workspace", id)
	}
	return copyWorkspace(w), nil
}

func (t *memTx) GetWorkspaceByAgent(agentID string) (*domain.Workspace, error) {
	for _, w := range t.s.workspaces {
		if w.AgentID == agentID {
			return copyWorkspace(w), nil
		}
	}
	return nil, domain.NotFound("workspace for agent", agentID)
}

func (t *memTx) InsertTransaction(tr *domain.Transaction) error {
	t.s.transactions = append(t.s.transactions, copyTransaction(tr))
	return nil
}

func (t *memTx) ListTransactionsByEntity(entityID string) ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	for _, tr := range t.s.transactions {
		if tr.FromEntity == entityID || tr.ToEntity == entityID {
			out = append(out, copyTransaction(tr))
		}
	}
	// Newest first; insertion order breaks timestamp ties.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (t *memTx) InsertBundle(b *domain.ResourceBundle) error {
	if _, ok := t.s.bundles[b.ID]; ok {
		return duplicate("bundle", b.ID)
	}
	t.s.bundles[b.ID] = copyBundle(b)
	return nil
}

func (t *memTx) GetBundle(id string) (*domain.ResourceBundle, error) {
	b, ok := t.s.bundles[id]
	if !ok {
		return nil, domain.NotFound("bundle", id)
	}
	return copyBundle(b), nil
}

func (t *memTx) InsertBid(b *domain.Bid) error {
	if _, ok := t.s.bids[b.ID]; ok {
		return duplicate("bid", b.ID)
	}
	t.s.bids[b.ID] = copyBid(b)
	return nil
}

func (t *memTx) GetBid(id string) (*domain.Bid, error) {
	b, ok := t.s.bids[id]
	if !ok {
		return nil, domain.NotFound("bid", id)
	}
	return copyBid(b), nil
}

func (t *memTx) UpdateBid(b *domain.Bid) error {
	if _, ok := t.s.bids[b.ID]; !ok {
		return domain.NotFound("bid", b.ID)
	}
	t.s.bids[b.ID] = copyBid(b)
	return nil
}

func (t *memTx) ListBidsByStatus(status domain.BidStatus) ([]*domain.Bid, error) {
	var out []*domain.Bid
	for _, b := range t.s.bids {
		if b.Status == status {
			out = append(out, copyBid(b))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (t *memTx) ListBidsByAgent(agentID string) ([]*domain.Bid, error) {
	var out []*domain.Bid
	for _, b := range t.s.bids {
		if b.AgentID == agentID {
			out = append(out, copyBid(b))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (t *memTx) InsertExecution(e *domain.Execution) error {
	if _, ok := t.s.executions[e.ID]; ok {
		return duplicate("execution", e.ID)
	}
	t.s.executions[e.ID] = copyExecution(e)
	return nil
}

func (t *memTx) GetExecution(id string) (*domain.Execution, error) {
	e, ok := t.s.executions[id]
	if !ok {
		return nil, domain.NotFound("execution", id)
	}
	return copyExecution(e), nil
}

func (t *memTx) UpdateExecution(e *domain.Execution) error {
	if _, ok := t.s.executions[e.ID]; !ok {
		return domain.NotFound("execution", e.ID)
	}
	t.s.executions[e.ID] = copyExecution(e)
	return nil
}

func (t *memTx) InsertMarketState(ms *domain.MarketState) error {
	if _, ok := t.s.markets[ms.Kind]; ok {
		return duplicate("market state", string(ms.Kind))
	}
	t.s.markets[ms.Kind] = copyMarketState(ms)
	return nil
}

func (t *memTx) GetMarketState(kind domain.ResourceType) (*domain.MarketState, error) {
	ms, ok := t.s.markets[kind]
	if !ok {
		return nil, domain.NotFound("market state", string(kind))
	}
	return copyMarketState(ms), nil
}

func (t *memTx) UpdateMarketState(ms *domain.MarketState) error {
	if _, ok := t.s.markets[ms.Kind]; !ok {
		return domain.NotFound("market state", string(ms.Kind))
	}
	t.s.markets[ms.Kind] = copyMarketState(ms)
	return nil
}

func (t *memTx) ListMarketStates() ([]*domain.MarketState, error) {
	out := make([]*domain.MarketState, 0, len(t.s.markets))
	for _, ms := range t.s.markets {
		out = append(out, copyMarketState(ms))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}

func (t *memTx) InsertPrompt(p *domain.Prompt) error {
	if _, ok := t.s.prompts[p.ID]; ok {
		return duplicate("prompt", p.ID)
	}
	t.s.prompts[p.ID] = copyPrompt(p)
	return nil
}

func (t *memTx) GetPrompt(id string) (*domain.Prompt, error) {
	p, ok := t.s.prompts[id]
	if !ok {
		return nil, domain.NotFound("prompt", id)
	}
	return copyPrompt(p), nil
}

func (t *memTx) GetPromptForUpdate(id string) (*domain.Prompt, error) {
	return t.GetPrompt(id)
}

func (t *memTx) UpdatePrompt(p *domain.Prompt) error {
	if _, ok := t.s.prompts[p.ID]; !ok {
		return domain.NotFound("prompt", p.ID)
	}
	t.s.prompts[p.ID] = copyPrompt(p)
	return nil
}

func (t *memTx) ListPendingPrompts() ([]*domain.Prompt, error) {
	var out []*domain.Prompt
	for _, p := range t.s.prompts {
		if p.Status == domain.PromptPending {
			out = append(out, copyPrompt(p))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BidAmount != out[j].BidAmount {
			return out[i].BidAmount > out[j].BidAmount
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (t *memTx) InsertResponse(r *domain.Response) error {
	if _, ok := t.s.responses[r.PromptID]; ok {
		return duplicate("response for prompt", r.PromptID)
	}
	t.s.responses[r.PromptID] = copyResponse(r)
	return nil
}

func (t *memTx) GetResponseByPrompt(promptID string) (*domain.Response, error) {
	r, ok := t.s.responses[promptID]
	if !ok {
		return nil, domain.NotFound("response for prompt", promptID)
	}
	return copyResponse(r), nil
}

func (t *memTx) InsertMessage(m *domain.Message) error {
	t.s.messages = append(t.s.messages, copyMessage(m))
	return nil
}

func (t *memTx) ListMessagesForAgent(agentID string) ([]*domain.Message, error) {
	var out []*domain.Message
	for _, m := range t.s.messages {
		if m.ToAgentID == agentID || m.FromAgentID == agentID {
			out = append(out, copyMessage(m))
		}
	}
	return out, nil
}

var _ Store = (*Memory)(nil)
var _ Tx = (*memTx)(nil)
