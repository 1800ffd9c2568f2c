package events

import "time"

// Topic names are part of the external compatibility surface.
const (
	TopicBidPlaced       = "system.market.bid_placed"
	TopicBidProcessed    = "system.market.bid_processed"
	TopicBidRejected     = "system.market.bid_rejected"
	TopicPriceDiscovered = "system.market.price_discovered"

	TopicExecutionStarted    = "system.execution.started"
	TopicExecutionTerminated = "system.execution.terminated"

	TopicCreditsBurned  = "system.economy.credits_burned"
	TopicReasoningTrace = "system.agent.reasoning"
)

func stamp(data map[string]interface{}) map[string]interface{} {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	return data
}

// BidProcessed is the payload for system.market.bid_processed.
func BidProcessed(bidID, agentID string, amount float64, status, bundleID string) map[string]interface{} {
	return stamp(map[string]interface{}{
		"bid_id":             bidID,
		"agent_id":           agentID,
		"amount":             amount,
		"status":             status,
		"resource_bundle_id": bundleID,
	})
}

// PriceDiscovered is the payload for system.market.price_discovered.
func PriceDiscovered(resourceType string, newPrice, utilization float64) map[string]interface{} {
	return stamp(map[string]interface{}{
		"resource_type": resourceType,
		"new_price":     newPrice,
		"utilization":   utilization,
	})
}

// ExecutionStarted is the payload for system.execution.started.
func ExecutionStarted(executionID, agentID, bundleID string) map[string]interface{} {
	return stamp(map[string]interface{}{
		"execution_id":       executionID,
		"agent_id":           agentID,
		"resource_bundle_id": bundleID,
	})
}

// ExecutionTerminated is the payload for system.execution.terminated.
func ExecutionTerminated(executionID, agentID string, exitCode int, reason string) map[string]interface{} {
	return stamp(map[string]interface{}{
		"execution_id": executionID,
		"agent_id":     agentID,
		"exit_code":    exitCode,
		"reason":       reason,
	})
}

// CreditsBurned is the payload for system.economy.credits_burned.
func CreditsBurned(agentID string, amount float64, reason string) map[string]interface{} {
	return stamp(map[string]interface{}{
		"agent_id": agentID,
		"amount":   amount,
		"reason":   reason,
	})
}

// ReasoningTrace is the payload for system.agent.reasoning.
func ReasoningTrace(agentID, content string) map[string]interface{} {
	return stamp(map[string]interface{}{
		"agent_id": agentID,
		"content":  content,
	})
}
