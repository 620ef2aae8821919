package sql

import "time"

type ledgerEntryModel struct {
	UserID      string    `gorm:"primaryKey;size:128"`
	BudgetMonth string    `gorm:"size:7;not null"`
	SpentUSD    float64   `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime:false"`
}

func (ledgerEntryModel) TableName() string {
	return "ledger_entries"
}

type usageRecordModel struct {
	ID      uint      `gorm:"primaryKey"`
	UserID  string    `gorm:"size:128;not null;index"`
	At      time.Time `gorm:"not null"`
	Credits int       `gorm:"not null"`
	CostUSD float64   `gorm:"not null"`
}

func (usageRecordModel) TableName() string {
	return "usage_records"
}

type sessionModel struct {
	ConversationID     string    `gorm:"primaryKey;size:128"`
	UserID             string    `gorm:"size:128;not null;index:idx_sessions_user_activity,priority:1"`
	State              string    `gorm:"size:32;not null"`
	Intent             string    `gorm:"type:text"`
	SelectedTemplateID *string   `gorm:"size:255;default:null"`
	RecipientsTotal    int       `gorm:"not null"`
	RecipientsValid    int       `gorm:"not null"`
	RecipientsInvalid  int       `gorm:"not null"`
	Summary            string    `gorm:"type:text"`
	Context            string    `gorm:"type:text"`
	CreatedAt          time.Time `gorm:"autoCreateTime:false"`
	LastActivityAt     time.Time `gorm:"index:idx_sessions_user_activity,priority:2"`
	Version            int       `gorm:"not null"`
	AbandonReason      string    `gorm:"size:32"`
}

func (sessionModel) TableName() string {
	return "workflow_sessions"
}

type checkpointModel struct {
	ID             string    `gorm:"primaryKey;size:36"`
	ConversationID string    `gorm:"size:128;not null;uniqueIndex:idx_checkpoints_seq,priority:1"`
	Seq            int       `gorm:"not null;uniqueIndex:idx_checkpoints_seq,priority:2"`
	State          string    `gorm:"size:32;not null"`
	Event          string    `gorm:"size:32;not null"`
	Payload        string    `gorm:"type:text;not null"`
	CreatedAt      time.Time `gorm:"autoCreateTime:false"`
}

func (checkpointModel) TableName() string {
	return "workflow_checkpoints"
}
