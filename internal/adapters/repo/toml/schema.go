package toml

import "fmt"

const currentSchemaVersion = 1

func applyVersionDefault(version *int) {
	if *version == 0 {
		*version = currentSchemaVersion
	}
}

func validateVersion(kind string, version int) error {
	if version > currentSchemaVersion {
		return fmt.Errorf("unsupported %s schema version %d (current %d)", kind, version, currentSchemaVersion)
	}

	return nil
}

type ledgerFileSchema struct {
	Version int                 `toml:"version"`
	Entries []ledgerEntrySchema `toml:"entries"`
}

type ledgerEntrySchema struct {
	UserID      string              `toml:"user_id"`
	BudgetMonth string              `toml:"budget_month"`
	SpentUSD    float64             `toml:"spent_usd"`
	UpdatedAt   string              `toml:"updated_at"`
	Records     []usageRecordSchema `toml:"records,omitempty"`
}

type usageRecordSchema struct {
	At      string  `toml:"at"`
	Credits int     `toml:"credits"`
	CostUSD float64 `toml:"cost_usd"`
}

type sessionFileSchema struct {
	Version     int                `toml:"version"`
	Sessions    []sessionSchema    `toml:"sessions"`
	Checkpoints []checkpointSchema `toml:"checkpoints"`
}

type sessionSchema struct {
	ConversationID     string            `toml:"conversation_id"`
	UserID             string            `toml:"user_id"`
	State              string            `toml:"state"`
	Intent             string            `toml:"intent,omitempty"`
	SelectedTemplateID *string           `toml:"selected_template_id,omitempty"`
	Recipients         recipientsSchema  `toml:"recipients"`
	Summary            string            `toml:"summary,omitempty"`
	Context            map[string]string `toml:"context,omitempty"`
	CreatedAt          string            `toml:"created_at"`
	LastActivityAt     string            `toml:"last_activity_at"`
	Version            int               `toml:"version"`
	AbandonReason      string            `toml:"abandon_reason,omitempty"`
}

type recipientsSchema struct {
	Total   int `toml:"total"`
	Valid   int `toml:"valid"`
	Invalid int `toml:"invalid"`
}

// checkpointSchema keeps the payload as the JSON document the workflow
// store produced so replay sees the exact bytes.
type checkpointSchema struct {
	ID             string `toml:"id"`
	ConversationID string `toml:"conversation_id"`
	Seq            int    `toml:"seq"`
	State          string `toml:"state"`
	Event          string `toml:"event"`
	Payload        string `toml:"payload"`
	CreatedAt      string `toml:"created_at"`
}
