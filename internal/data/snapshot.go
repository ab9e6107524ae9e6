package data

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionSnapshot is the persisted record of one session, written when the
// session ends or at administrative checkpoints.
type SessionSnapshot struct {
	ID         uint64 `gorm:"primaryKey"`
	SessionID  string `gorm:"uniqueIndex; not null"`
	ScenarioID string `gorm:"not null"`
	State      string `gorm:"not null"`
	HostName   string
	GuestName  string
	EndReason  string
	// Progress holds the game dispatcher's JSON-encoded view of the case
	// (player rooms, clues found, exam score). Opaque to this package.
	Progress  []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SaveSnapshot upserts the snapshot for a session, keying on the session id
// so that checkpoints overwrite rather than accumulate. The write is a
// single ON CONFLICT statement: the periodic checkpoint job and an ending
// session may persist the same session concurrently, and a find-then-save
// pair would let them race into duplicate rows.
func SaveSnapshot(db *gorm.DB, snapshot *SessionSnapshot) error {
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"scenario_id", "state", "host_name", "guest_name", "end_reason", "progress", "updated_at",
		}),
	}).Create(snapshot).Error
}

// FindSnapshot returns the snapshot for a session id, or nil if the session
// was never persisted.
func FindSnapshot(db *gorm.DB, sessionID string) (*SessionSnapshot, error) {
	var snapshot SessionSnapshot
	err := db.Where("session_id = ?", sessionID).First(&snapshot).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &snapshot, nil
}
