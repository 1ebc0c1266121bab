package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

type ConflictRecord struct {
	ID                 string          `db:"id"`
	TableName          string          `db:"table_name"`
	RecordID           string          `db:"record_id"`
	FirstData          json.RawMessage `db:"first_data"`
	LastData           json.RawMessage `db:"last_data"`
	DetectedAt         time.Time       `db:"detected_at"`
	Resolved           bool            `db:"resolved"`
	ResolutionStrategy sql.NullString  `db:"resolution_strategy"`
	ResolvedAt         sql.NullTime    `db:"resolved_at"`
}

// ConflictRecordFrom flattens an in-memory conflict into its audit row.
func ConflictRecordFrom(id, table, recordID string, firstData, lastData map[string]interface{}, detectedAt time.Time) *ConflictRecord {
	firstBytes, _ := json.Marshal(firstData)
	lastBytes, _ := json.Marshal(lastData)
	return &ConflictRecord{
		ID:         id,
		TableName:  table,
		RecordID:   recordID,
		FirstData:  firstBytes,
		LastData:   lastBytes,
		DetectedAt: detectedAt,
	}
}

type EventRecord struct {
	ID        string          `db:"id"`
	TableName string          `db:"table_name"`
	Operation string          `db:"operation"`
	RecordID  string          `db:"record_id"`
	UserID    string          `db:"user_id"`
	SessionID string          `db:"session_id"`
	Payload   json.RawMessage `db:"payload"`
	CreatedAt time.Time       `db:"created_at"`
}

type SyncRun struct {
	ID                string         `db:"id"`
	StartedAt         time.Time      `db:"started_at"`
	CompletedAt       sql.NullTime   `db:"completed_at"`
	EventsBroadcast   int64          `db:"events_broadcast"`
	ConflictsDetected int            `db:"conflicts_detected"`
	Status            string         `db:"status"`
	ErrorMessage      sql.NullString `db:"error_message"`
}
