package domain

// Tunable economics constants. Config may override any of these; the values
// here are the system defaults.
const (
	// SpawnCost is the fee burned to SYSTEM when a parent spawns a child.
	SpawnCost = 10.0

	// GenesisAgentID is the well-known id of the root agent.
	GenesisAgentID = "genesis"

	// GenesisInitialCredits seeds the root agent.
	GenesisInitialCredits = 1000.0

	// MinPrice and MaxPrice clamp every discovered market price.
	MinPrice = 0.01
	MaxPrice = 1000.0
)

// AttentionConversionRates maps each human score dimension to the credits
// granted per score point. reward = sum over dimensions of score x rate.
var AttentionConversionRates = map[string]float64{
	"interesting":    50.0,
	"useful":         50.0,
	"understandable": 50.0,
}

// ResourceDefault is the seed supply and price for one market resource.
type ResourceDefault struct {
	Supply float64
	Price  float64
}

// MarketResources seeds the four MarketState rows on first boot.
var MarketResources = map[ResourceType]ResourceDefault{
	ResourceCPU:       {Supply: 10, Price: 1},
	ResourceMemory:    {Supply: 1024, Price: 0.1},
	ResourceTokens:    {Supply: 1e6, Price: 0.001},
	ResourceAttention: {Supply: 1, Price: 10},
}

// Legacy absolute bundle fields are converted to capacity fractions at the
// API surface using these divisors (cpu_seconds, memory_mb, tokens).
const (
	LegacyCPUDivisor    = 10.0
	LegacyMemoryDivisor = 1024.0
	LegacyTokensDivisor = 1e6
)
