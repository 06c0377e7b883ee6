package models

import "time"

// SyncRunStatus describes the most recent or in-progress drain pass.
type SyncRunStatus struct {
	IsSyncing    bool       `json:"is_syncing"`
	LastSyncTime *time.Time `json:"last_sync_time,omitempty"`
	PendingCount int        `json:"pending_count"`
	FailedCount  int        `json:"failed_count"`
	LastError    string     `json:"last_error,omitempty"`
}

// SyncOutcome is the result of one submission attempt.
type SyncOutcome struct {
	ID             string         `json:"id"`
	TargetHash     string         `json:"target_hash"`
	Success        bool           `json:"success"`
	Resolution     Resolution     `json:"resolution,omitempty"`
	Error          *CheckInError  `json:"error,omitempty"`
	ServerResponse *CheckInResult `json:"server_response,omitempty"`
}

// QueueCounts summarises the queue contents.
type QueueCounts struct {
	Total    int `json:"total"`
	Unsynced int `json:"unsynced"`
}

// Trigger names the source that requested a drain pass.
type Trigger string

const (
	TriggerReconnect Trigger = "reconnect"
	TriggerPeriodic  Trigger = "periodic"
	TriggerManual    Trigger = "manual"
	TriggerEnqueue   Trigger = "enqueue"
)

// Sync log entry kinds.
const (
	LogPassStarted     = "pass_started"
	LogPassCompleted   = "pass_completed"
	LogPassFailed      = "pass_failed"
	LogIntentExhausted = "intent_exhausted"
	LogIntentRejected  = "intent_rejected"
)

// SyncLogEntry is one row of the append-only diagnostic log.
type SyncLogEntry struct {
	ID        int64     `json:"id"`
	PassID    string    `json:"pass_id"`
	Kind      string    `json:"kind"`
	Trigger   Trigger   `json:"trigger,omitempty"`
	Processed int       `json:"processed"`
	Synced    int       `json:"synced"`
	Failed    int       `json:"failed"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
