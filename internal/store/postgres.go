package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/syntropism/backend/internal/domain"
)

// Postgres is the production store backend. Row locks on contested rows use
// SELECT ... FOR UPDATE inside the enclosing sql transaction.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a connection pool and ensures the schema exists.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StorageError(err)
	}
	if err := fn(&pgTx{ctx: ctx, tx: sqlTx}); err != nil {
		sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return domain.StorageError(err)
	}
	return nil
}

func (p *Postgres) Close() error { return p.db.Close() }

type pgTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func wrapRowErr(entity, id string, err error) error {
	if err == sql.ErrNoRows {
		return domain.NotFound(entity, id)
	}
	return domain.StorageError(err)
}

// ----------------------------------------------------------------------------
// Agents
// ----------------------------------------------------------------------------

const agentCols = `id, balance, status, total_earned, total_spent, lineage, workspace_id, created_at, last_execution_at`

func scanAgent(row *sql.Row) (*domain.Agent, error) {
	var a domain.Agent
	var lineage []byte
	var lastExec sql.NullTime
	err := row.Scan(&a.ID, &a.Balance, &a.Status, &a.TotalEarned, &a.TotalSpent,
		&lineage, &a.WorkspaceID, &a.CreatedAt, &lastExec)
	if err != nil {
		return nil, err
	}
	if len(lineage) > 0 {
		if err := json.Unmarshal(lineage, &a.Lineage); err != nil {
			return nil, err
		}
	}
	if lastExec.Valid {
		t := lastExec.Time
		a.LastExecutionAt = &t
	}
	return &a, nil
}

func (t *pgTx) InsertAgent(a *domain.Agent) error {
	lineage, err := json.Marshal(a.Lineage)
	if err != nil {
		return domain.StorageError(err)
	}
	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO agents (id, balance, status, total_earned, total_spent, lineage, workspace_id, created_at, last_execution_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.Balance, a.Status, a.TotalEarned, a.TotalSpent, lineage, a.WorkspaceID, a.CreatedAt, a.LastExecutionAt)
	if err != nil {
		return domain.StorageError(err)
	}
	return nil
}

func (t *pgTx) GetAgent(id string) (*domain.Agent, error) {
	a, err := scanAgent(t.tx.QueryRowContext(t.ctx,
		`SELECT `+agentCols+` FROM agents WHERE id = $1`, id))
	if err != nil {
		return nil, wrapRowErr("agent", id, err)
	}
	return a, nil
}

func (t *pgTx) GetAgentForUpdate(id string) (*domain.Agent, error) {
	a, err := scanAgent(t.tx.QueryRowContext(t.ctx,
		`SELECT `+agentCols+` FROM agents WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, wrapRowErr("agent", id, err)
	}
	return a, nil
}

func (t *pgTx) UpdateAgent(a *domain.Agent) error {
	lineage, err := json.Marshal(a.Lineage)
	if err != nil {
		return domain.StorageError(err)
	}
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE agents SET balance = $2, status = $3, total_earned = $4, total_spent = $5,
			lineage = $6, workspace_id = $7, last_execution_at = $8
		WHERE id = $1`,
		a.ID, a.Balance, a.Status, a.TotalEarned, a.TotalSpent, lineage, a.WorkspaceID, a.LastExecutionAt)
	if err != nil {
		return domain.StorageError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("agent", a.ID)
	}
	return nil
}

func (t *pgTx) ListAgentsByStatus(status domain.AgentStatus) ([]*domain.Agent, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT `+agentCols+` FROM agents WHERE status = $1 ORDER BY id`, status)
	if err != nil {
		return nil, domain.StorageError(err)
	}
	defer rows.Close()

	var out []*domain.Agent
	for rows.Next() {
		var a domain.Agent
		var lineage []byte
		var lastExec sql.NullTime
		if err := rows.Scan(&a.ID, &a.Balance, &a.Status, &a.TotalEarned, &a.TotalSpent,
			&lineage, &a.WorkspaceID, &a.CreatedAt, &lastExec); err != nil {
			return nil, domain.StorageError(err)
		}
		if len(lineage) > 0 {
			if err := json.Unmarshal(lineage, &a.Lineage); err != nil {
				return nil, domain.StorageError(err)
			}
		}
		if lastExec.Valid {
			ts := lastExec.Time
			a.LastExecutionAt = &ts
		}
		out = append(out, &a)
	}
	return out, domain.StorageError(rows.Err())
}

// ----------------------------------------------------------------------------
// Workspaces
// ----------------------------------------------------------------------------

func (t *pgTx) InsertWorkspace(w *domain.Workspace) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO workspaces (id, agent_id, filesystem_path, created_at)
		VALUES ($1, $2, $3, $4)`,
		w.ID, w.AgentID, w.FilesystemPath, w.CreatedAt)
	if err != nil {
		return domain.StorageError(err)
	}
	return nil
}

func (t *pgTx) getWorkspace(query, arg, entity string) (*domain.Workspace, error) {
	var w domain.Workspace
	err := t.tx.QueryRowContext(t.ctx, query, arg).
		Scan(&w.ID, &w.AgentID, &w.FilesystemPath, &w.CreatedAt)
	if err != nil {
		return nil, wrapRowErr(entity, arg, err)
	}
	return &w, nil
}

func (t *pgTx) GetWorkspace(id string) (*domain.Workspace, error) {
	return t.getWorkspace(
		`SELECT id, agent_id, filesystem_path, created_at FROM workspaces WHERE id = $1`, id, "workspace")
}

func (t *pgTx) GetWorkspaceByAgent(agentID string) (*domain.Workspace, error) {
	return t.getWorkspace(
		`SELECT id, agent_id, filesystem_path, created_at FROM workspaces WHERE agent_id = $1`,
		agentID, "workspace for agent")
}

// ----------------------------------------------------------------------------
// Transactions
// ----------------------------------------------------------------------------

func (t *pgTx) InsertTransaction(tr *domain.Transaction) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO transactions (id, from_entity, to_entity, amount, memo, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		tr.ID, tr.FromEntity, tr.ToEntity, tr.Amount, tr.Memo, tr.Timestamp)
	if err != nil {
		return domain.StorageError(err)
	}
	return nil
}

func (t *pgTx) ListTransactionsByEntity(entityID string) ([]*domain.Transaction, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT id, from_entity, to_entity, amount, memo, timestamp
		FROM transactions WHERE from_entity = $1 OR to_entity = $1
		ORDER BY timestamp DESC`, entityID)
	if err != nil {
		return nil, domain.StorageError(err)
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		var tr domain.Transaction
		if err := rows.Scan(&tr.ID, &tr.FromEntity, &tr.ToEntity, &tr.Amount, &tr.Memo, &tr.Timestamp); err != nil {
			return nil, domain.StorageError(err)
		}
		out = append(out, &tr)
	}
	return out, domain.StorageError(rows.Err())
}

// ----------------------------------------------------------------------------
// Resource bundles
// ----------------------------------------------------------------------------

func (t *pgTx) InsertBundle(b *domain.ResourceBundle) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO resource_bundles (id, cpu_percent, memory_percent, tokens_percent, attention_percent, duration_seconds)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		b.ID, b.CPUPercent, b.MemoryPercent, b.TokensPercent, b.AttentionPercent, b.DurationSeconds)
	if err != nil {
		return domain.StorageError(err)
	}
	return nil
}

func (t *pgTx) GetBundle(id string) (*domain.ResourceBundle, error) {
	var b domain.ResourceBundle
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT id, cpu_percent, memory_percent, tokens_percent, attention_percent, duration_seconds
		FROM resource_bundles WHERE id = $1`, id).
		Scan(&b.ID, &b.CPUPercent, &b.MemoryPercent, &b.TokensPercent, &b.AttentionPercent, &b.DurationSeconds)
	if err != nil {
		return nil, wrapRowErr("bundle", id, err)
	}
	return &b, nil
}

// ----------------------------------------------------------------------------
// Bids
// ----------------------------------------------------------------------------

const bidCols = `id, agent_id, bundle_id, amount, status, COALESCE(execution_id, ''), timestamp`

func (t *pgTx) InsertBid(b *domain.Bid) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO bids (id, agent_id, bundle_id, amount, status, execution_id, timestamp)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)`,
		b.ID, b.AgentID, b.BundleID, b.Amount, b.Status, b.ExecutionID, b.Timestamp)
	if err != nil {
		return domain.StorageError(err)
	}
	return nil
}

func (t *pgTx) GetBid(id string) (*domain.Bid, error) {
	var b domain.Bid
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT `+bidCols+` FROM bids WHERE id = $1`, id).
		Scan(&b.ID, &b.AgentID, &b.BundleID, &b.Amount, &b.Status, &b.ExecutionID, &b.Timestamp)
	if err != nil {
		return nil, wrapRowErr("bid", id, err)
	}
	return &b, nil
}

func (t *pgTx) UpdateBid(b *domain.Bid) error {
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE bids SET status = $2, execution_id = NULLIF($3, '') WHERE id = $1`,
		b.ID, b.Status, b.ExecutionID)
	if err != nil {
		return domain.StorageError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("bid", b.ID)
	}
	return nil
}

func (t *pgTx) listBids(query string, arg interface{}) ([]*domain.Bid, error) {
	rows, err := t.tx.QueryContext(t.ctx, query, arg)
	if err != nil {
		return nil, domain.StorageError(err)
	}
	defer rows.Close()

	var out []*domain.Bid
	for rows.Next() {
		var b domain.Bid
		if err := rows.Scan(&b.ID, &b.AgentID, &b.BundleID, &b.Amount, &b.Status, &b.ExecutionID, &b.Timestamp); err != nil {
			return nil, domain.StorageError(err)
		}
		out = append(out, &b)
	}
	return out, domain.StorageError(rows.Err())
}

func (t *pgTx) ListBidsByStatus(status domain.BidStatus) ([]*domain.Bid, error) {
	// Pending bids are locked for the duration of the clearing transaction so
	// concurrent submitters block briefly and land in the next cycle.
	return t.listBids(
		`SELECT `+bidCols+` FROM bids WHERE status = $1 ORDER BY timestamp FOR UPDATE`, status)
}

func (t *pgTx) ListBidsByAgent(agentID string) ([]*domain.Bid, error) {
	return t.listBids(
		`SELECT `+bidCols+` FROM bids WHERE agent_id = $1 ORDER BY timestamp DESC`, agentID)
}

// ----------------------------------------------------------------------------
// Executions
// ----------------------------------------------------------------------------

func (t *pgTx) InsertExecution(e *domain.Execution) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO executions (id, agent_id, bundle_id, start_time, end_time, status, exit_code, termination_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.AgentID, e.BundleID, e.StartTime, e.EndTime, e.Status, e.ExitCode, e.TerminationReason)
	if err != nil {
		return domain.StorageError(err)
	}
	return nil
}

func (t *pgTx) GetExecution(id string) (*domain.Execution, error) {
	var e domain.Execution
	var endTime sql.NullTime
	var exitCode sql.NullInt64
	var reason sql.NullString
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT id, agent_id, bundle_id, start_time, end_time, status, exit_code, termination_reason
		FROM executions WHERE id = $1`, id).
		Scan(&e.ID, &e.AgentID, &e.BundleID, &e.StartTime, &endTime, &e.Status, &exitCode, &reason)
	if err != nil {
		return nil, wrapRowErr("execution", id, err)
	}
	if endTime.Valid {
		ts := endTime.Time
		e.EndTime = &ts
	}
	if exitCode.Valid {
		ec := int(exitCode.Int64)
		e.ExitCode = &ec
	}
	e.TerminationReason = reason.String
	return &e, nil
}

func (t *pgTx) UpdateExecution(e *domain.Execution) error {
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE executions SET end_time = $2, status = $3, exit_code = $4, termination_reason = $5
		WHERE id = $1`,
		e.ID, e.EndTime, e.Status, e.ExitCode, e.TerminationReason)
	if err != nil {
		return domain.StorageError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("execution", e.ID)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Market states
// ----------------------------------------------------------------------------

func (t *pgTx) InsertMarketState(ms *domain.MarketState) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO market_states (resource_type, available_supply, current_utilization, current_price, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (resource_type) DO NOTHING`,
		ms.Kind, ms.AvailableSupply, ms.CurrentUtilization, ms.CurrentPrice, ms.UpdatedAt)
	if err != nil {
		return domain.StorageError(err)
	}
	return nil
}

func (t *pgTx) GetMarketState(kind domain.ResourceType) (*domain.MarketState, error) {
	var ms domain.MarketState
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT resource_type, available_supply, current_utilization, current_price, updated_at
		FROM market_states WHERE resource_type = $1 FOR UPDATE`, kind).
		Scan(&ms.Kind, &ms.AvailableSupply, &ms.CurrentUtilization, &ms.CurrentPrice, &ms.UpdatedAt)
	if err != nil {
		return nil, wrapRowErr("market state", string(kind), err)
	}
	return &ms, nil
}

func (t *pgTx) UpdateMarketState(ms *domain.MarketState) error {
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE market_states SET available_supply = $2, current_utilization = $3, current_price = $4, updated_at = $5
		WHERE resource_type = $1`,
		ms.Kind, ms.AvailableSupply, ms.CurrentUtilization, ms.CurrentPrice, ms.UpdatedAt)
	if err != nil {
		return domain.StorageError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("market state", string(ms.Kind))
	}
	return nil
}

func (t *pgTx) ListMarketStates() ([]*domain.MarketState, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT resource_type, available_supply, current_utilization, current_price, updated_at
		FROM market_states ORDER BY resource_type FOR UPDATE`)
	if err != nil {
		return nil, domain.StorageError(err)
	}
	defer rows.Close()

	var out []*domain.MarketState
	for rows.Next() {
		var ms domain.MarketState
		if err := rows.Scan(&ms.Kind, &ms.AvailableSupply, &ms.CurrentUtilization, &ms.CurrentPrice, &ms.UpdatedAt); err != nil {
			return nil, domain.StorageError(err)
		}
		out = append(out, &ms)
	}
	return out, domain.StorageError(rows.Err())
}

// ----------------------------------------------------------------------------
// Prompts
// ----------------------------------------------------------------------------

func scanPrompt(scan func(dest ...interface{}) error) (*domain.Prompt, error) {
	var p domain.Prompt
	var content []byte
	if err := scan(&p.ID, &p.AgentID, &p.ExecutionID, &content, &p.BidAmount, &p.Status, &p.Timestamp); err != nil {
		return nil, err
	}
	if len(content) > 0 {
		if err := json.Unmarshal(content, &p.Content); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

const promptCols = `id, agent_id, execution_id, content, bid_amount, status, timestamp`

func (t *pgTx) InsertPrompt(p *domain.Prompt) error {
	content, err := json.Marshal(p.Content)
	if err != nil {
		return domain.StorageError(err)
	}
	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO prompts (id, agent_id, execution_id, content, bid_amount, status, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.AgentID, p.ExecutionID, content, p.BidAmount, p.Status, p.Timestamp)
	if err != nil {
		return domain.StorageError(err)
	}
	return nil
}

func (t *pgTx) getPrompt(id string, forUpdate bool) (*domain.Prompt, error) {
	query := `SELECT ` + promptCols + ` FROM prompts WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	p, err := scanPrompt(t.tx.QueryRowContext(t.ctx, query, id).Scan)
	if err != nil {
		return nil, wrapRowErr("prompt", id, err)
	}
	return p, nil
}

func (t *pgTx) GetPrompt(id string) (*domain.Prompt, error) { return t.getPrompt(id, false) }

func (t *pgTx) GetPromptForUpdate(id string) (*domain.Prompt, error) { return t.getPrompt(id, true) }

func (t *pgTx) UpdatePrompt(p *domain.Prompt) error {
	res, err := t.tx.ExecContext(t.ctx, `UPDATE prompts SET status = $2 WHERE id = $1`, p.ID, p.Status)
	if err != nil {
		return domain.StorageError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("prompt", p.ID)
	}
	return nil
}

func (t *pgTx) ListPendingPrompts() ([]*domain.Prompt, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT `+promptCols+` FROM prompts WHERE status = $1
		ORDER BY bid_amount DESC, timestamp ASC`, domain.PromptPending)
	if err != nil {
		return nil, domain.StorageError(err)
	}
	defer rows.Close()

	var out []*domain.Prompt
	for rows.Next() {
		p, err := scanPrompt(rows.Scan)
		if err != nil {
			return nil, domain.StorageError(err)
		}
		out = append(out, p)
	}
	return out, domain.StorageError(rows.Err())
}

// ----------------------------------------------------------------------------
// Responses
// ----------------------------------------------------------------------------

func (t *pgTx) InsertResponse(r *domain.Response) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO responses (id, prompt_id, interesting, useful, understandable, reason, credits_awarded, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.PromptID, r.Interesting, r.Useful, r.Understandable, r.Reason, r.CreditsAwarded, r.Timestamp)
	if err != nil {
		return domain.StorageError(err)
	}
	return nil
}

func (t *pgTx) GetResponseByPrompt(promptID string) (*domain.Response, error) {
	var r domain.Response
	var reason sql.NullString
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT id, prompt_id, interesting, useful, understandable, reason, credits_awarded, timestamp
		FROM responses WHERE prompt_id = $1`, promptID).
		Scan(&r.ID, &r.PromptID, &r.Interesting, &r.Useful, &r.Understandable, &reason, &r.CreditsAwarded, &r.Timestamp)
	if err != nil {
		return nil, wrapRowErr("response for prompt", promptID, err)
	}
	r.Reason = reason.String
	return &r, nil
}

// ----------------------------------------------------------------------------
// Messages
// ----------------------------------------------------------------------------

func (t *pgTx) InsertMessage(m *domain.Message) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO messages (id, from_agent_id, to_agent_id, content, timestamp)
		VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.FromAgentID, m.ToAgentID, m.Content, m.Timestamp)
	if err != nil {
		return domain.StorageError(err)
	}
	return nil
}

func (t *pgTx) ListMessagesForAgent(agentID string) ([]*domain.Message, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT id, from_agent_id, to_agent_id, content, timestamp
		FROM messages WHERE from_agent_id = $1 OR to_agent_id = $1
		ORDER BY timestamp`, agentID)
	if err != nil {
		return nil, domain.StorageError(err)
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.FromAgentID, &m.ToAgentID, &m.Content, &m.Timestamp); err != nil {
			return nil, domain.StorageError(err)
		}
		out = append(out, &m)
	}
	return out, domain.StorageError(rows.Err())
}

var _ Store = (*Postgres)(nil)
var _ Tx = (*pgTx)(nil)
