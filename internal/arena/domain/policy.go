package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PolicyTrigger identifies what caused a policy revision.
type PolicyTrigger string

const (
	// TriggerInitial is the version created when an agent is provisioned.
	TriggerInitial PolicyTrigger = "initial"
	// TriggerException fires synchronously on anomalous performance.
	TriggerException PolicyTrigger = "exception"
	// TriggerQBR fires on the periodic review interval.
	TriggerQBR PolicyTrigger = "qbr"
	// TriggerManual marks operator-initiated revisions.
	TriggerManual PolicyTrigger = "manual"
)

// PolicySchemaVersion tags the current policy content layout. Older
// versions stay readable; unknown newer versions are rejected on decode.
const PolicySchemaVersion = 1

// PolicyContent holds the structured parameters governing bidding
// behavior. The schema version travels with the payload so future layout
// changes remain backward-readable.
type PolicyContent struct {
	SchemaVersion  int             `json:"schema_version"`
	Aggressiveness float64         `json:"aggressiveness"`
	MinMargin      decimal.Decimal `json:"min_margin"`
	MaxBidRatio    float64         `json:"max_bid_ratio"`
	RiskTolerance  float64         `json:"risk_tolerance"`
	PreferredTypes []string        `json:"preferred_types,omitempty"`
}

// DefaultPolicyContent returns the conservative starting policy.
func DefaultPolicyContent() PolicyContent {
	return PolicyContent{
		SchemaVersion:  PolicySchemaVersion,
		Aggressiveness: 0.5,
		MinMargin:      decimal.NewFromFloat(0.1),
		MaxBidRatio:    0.9,
		RiskTolerance:  0.5,
	}
}

// EncodePolicyContent serializes policy content for storage.
func EncodePolicyContent(content PolicyContent) (string, error) {
	if content.SchemaVersion == 0 {
		content.SchemaVersion = PolicySchemaVersion
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("marshal policy content: %w", err)
	}
	return string(raw), nil
}

// DecodePolicyContent parses stored policy content, rejecting schema
// versions newer than this build understands.
func DecodePolicyContent(raw string) (PolicyContent, error) {
	var content PolicyContent
	if err := json.Unmarshal([]byte(raw), &content); err != nil {
		return PolicyContent{}, fmt.Errorf("unmarshal policy content: %w", err)
	}
	if content.SchemaVersion > PolicySchemaVersion {
		return PolicyContent{}, fmt.Errorf("policy schema version %d is not supported", content.SchemaVersion)
	}
	if content.SchemaVersion == 0 {
		content.SchemaVersion = PolicySchemaVersion
	}
	return content, nil
}

// PolicyVersion is one entry in an agent's append-only policy log. The
// current policy is the highest version number for the agent.
type PolicyVersion struct {
	ID        string
	AgentID   string
	Version   int64
	Round     int64
	Trigger   PolicyTrigger
	Content   PolicyContent
	Rationale string
	Cost      decimal.Decimal
	CreatedAt time.Time
}
