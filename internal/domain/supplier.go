package domain

import "time"

// Supplier sync status constants.
const (
	SyncStatusIdle      = "idle"
	SyncStatusRunning   = "running"
	SyncStatusCompleted = "completed"
	SyncStatusFailed    = "failed"
	SyncStatusCancelled = "cancelled"
)

// Supplier represents one Promidata feed source (a supplier sub-feed).
type Supplier struct {
	ID              string     `json:"id"`
	Code            string     `json:"code"`
	Name            string     `json:"name"`
	IsActive        bool       `json:"is_active"`
	AutoImport      bool       `json:"auto_import"`
	LastSyncAt      *time.Time `json:"last_sync_at,omitempty"`
	LastSyncStatus  string     `json:"last_sync_status"`
	LastSyncMessage string     `json:"last_sync_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ValidSyncStatuses returns the set of valid supplier sync statuses.
func ValidSyncStatuses() []string {
	return []string{SyncStatusIdle, SyncStatusRunning, SyncStatusCompleted, SyncStatusFailed, SyncStatusCancelled}
}

// IsValidSyncStatus checks whether the given status is a valid sync status.
func IsValidSyncStatus(status string) bool {
	for _, s := range ValidSyncStatuses() {
		if s == status {
			return true
		}
	}
	return false
}
