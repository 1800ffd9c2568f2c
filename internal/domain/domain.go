// Package domain holds the entities, statuses and tunable constants of the
// agent economy. Everything here is plain data; behavior lives in the
// component packages that operate on the transactional store.
package domain

import "time"

// AgentStatus tracks whether an agent can still participate in the economy.
type AgentStatus string

const (
	AgentAlive AgentStatus = "alive"
	AgentDead  AgentStatus = "dead"
)

// BidStatus is the bid lifecycle: Pending -> (Winning|Outbid),
// Winning -> Completed. Completed, Outbid and Cancelled are terminal.
type BidStatus string

const (
	BidPending   BidStatus = "pending"
	BidWinning   BidStatus = "winning"
	BidOutbid    BidStatus = "outbid"
	BidCancelled BidStatus = "cancelled"
	BidCompleted BidStatus = "completed"
)

// ExecutionStatus tracks a sandboxed run from allocation to termination.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "PENDING"
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionFailed    ExecutionStatus = "FAILED"
)

// PromptStatus is the attention lifecycle: Pending -> Active -> Responded.
type PromptStatus string

const (
	PromptPending   PromptStatus = "pending"
	PromptActive    PromptStatus = "active"
	PromptResponded PromptStatus = "responded"
)

// ResourceType enumerates the four market resource dimensions.
type ResourceType string

const (
	ResourceCPU       ResourceType = "cpu"
	ResourceMemory    ResourceType = "memory"
	ResourceTokens    ResourceType = "tokens"
	ResourceAttention ResourceType = "attention"
)

// ResourceTypes lists all market resources in canonical order.
var ResourceTypes = []ResourceType{ResourceCPU, ResourceMemory, ResourceTokens, ResourceAttention}

// Reserved transaction endpoints. These are sinks/sources on the ledger, not
// agents: no balance row exists for them and no counters are kept.
const (
	SinkSystem          = "SYSTEM"
	SinkHuman           = "HUMAN"
	SinkAttentionEscrow = "ATTENTION_ESCROW"
)

// IsSink reports whether an entity id names a reserved ledger endpoint.
func IsSink(entity string) bool {
	switch entity {
	case SinkSystem, SinkHuman, SinkAttentionEscrow:
		return true
	}
	return false
}

// Agent is a principal that holds credits, owns a workspace, and may bid,
// prompt and spawn. Lineage is parent-first: [parent, grandparent, ...].
type Agent struct {
	ID              string      `json:"id"`
	Balance         float64     `json:"balance"`
	Status          AgentStatus `json:"status"`
	TotalEarned     float64     `json:"total_earned"`
	TotalSpent      float64     `json:"total_spent"`
	Lineage         []string    `json:"lineage"`
	WorkspaceID     string      `json:"workspace_id"`
	CreatedAt       time.Time   `json:"created_at"`
	LastExecutionAt *time.Time  `json:"last_execution_at,omitempty"`
}

// Workspace is the filesystem area exclusively owned by one agent. The
// sandbox mounts it read-write; nothing outside it is visible to the agent.
type Workspace struct {
	ID             string    `json:"id"`
	AgentID        string    `json:"agent_id"`
	FilesystemPath string    `json:"filesystem_path"`
	CreatedAt      time.Time `json:"created_at"`
}

// Transaction is one append-only double-entry record. FromEntity and
// ToEntity are agent ids or reserved sinks.
type Transaction struct {
	ID         string    `json:"id"`
	FromEntity string    `json:"from_entity"`
	ToEntity   string    `json:"to_entity"`
	Amount     float64   `json:"amount"`
	Memo       string    `json:"memo"`
	Timestamp  time.Time `json:"timestamp"`
}

// ResourceBundle is a contracted slice of capacity: a fraction in [0,1] per
// resource plus a wall-clock duration. Immutable once created.
type ResourceBundle struct {
	ID               string  `json:"id"`
	CPUPercent       float64 `json:"cpu_percent"`
	MemoryPercent    float64 `json:"memory_percent"`
	TokensPercent    float64 `json:"tokens_percent"`
	AttentionPercent float64 `json:"attention_percent"`
	DurationSeconds  float64 `json:"duration_seconds"`
}

// Fraction returns the bundle's requested fraction for one resource.
func (b *ResourceBundle) Fraction(rt ResourceType) float64 {
	switch rt {
	case ResourceCPU:
		return b.CPUPercent
	case ResourceMemory:
		return b.MemoryPercent
	case ResourceTokens:
		return b.TokensPercent
	case ResourceAttention:
		return b.AttentionPercent
	}
	return 0
}

// CapacitySeconds is fraction x duration for one resource dimension; the
// denominator of price discovery.
func (b *ResourceBundle) CapacitySeconds(rt ResourceType) float64 {
	return b.Fraction(rt) * b.DurationSeconds
}

// MarketState is one row per resource kind, updated only by the auctioneer
// in one transaction per cycle.
type MarketState struct {
	Kind               ResourceType `json:"resource_type"`
	AvailableSupply    float64      `json:"available_supply"`
	CurrentUtilization float64      `json:"current_utilization"`
	CurrentPrice       float64      `json:"current_price"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// Bid is an offer of credits for a resource bundle. ExecutionID is set only
// once the bid wins an allocation cycle.
type Bid struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agent_id"`
	BundleID    string    `json:"bundle_id"`
	Amount      float64   `json:"amount"`
	Status      BidStatus `json:"status"`
	ExecutionID string    `json:"execution_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Execution is one sandboxed run. Created by the auctioneer when a bid wins;
// finalized only by the executor.
type Execution struct {
	ID                string          `json:"id"`
	AgentID           string          `json:"agent_id"`
	BundleID          string          `json:"bundle_id"`
	StartTime         time.Time       `json:"start_time"`
	EndTime           *time.Time      `json:"end_time,omitempty"`
	Status            ExecutionStatus `json:"status"`
	ExitCode          *int            `json:"exit_code,omitempty"`
	TerminationReason string          `json:"termination_reason,omitempty"`
}

// Prompt is a request for human attention. The bid amount is escrowed at
// submission time and never returned to the submitter.
type Prompt struct {
	ID          string                 `json:"id"`
	AgentID     string                 `json:"agent_id"`
	ExecutionID string                 `json:"execution_id"`
	Content     map[string]interface{} `json:"content"`
	BidAmount   float64                `json:"bid_amount"`
	Status      PromptStatus           `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
}

// Response is the human verdict on a prompt. Exactly one exists per
// responded prompt.
type Response struct {
	ID             string    `json:"id"`
	PromptID       string    `json:"prompt_id"`
	Interesting    float64   `json:"interesting"`
	Useful         float64   `json:"useful"`
	Understandable float64   `json:"understandable"`
	Reason         string    `json:"reason,omitempty"`
	CreditsAwarded float64   `json:"credits_awarded"`
	Timestamp      time.Time `json:"timestamp"`
}

// Message is a direct agent-to-agent note, outside the credit economy.
type Message struct {
	ID          string    `json:"id"`
	FromAgentID string    `json:"from_agent_id"`
	ToAgentID   string    `json:"to_agent_id"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
}
