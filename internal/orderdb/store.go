// Package orderdb persists each queue's Task Order and the session token
// obtained per server, so a restarted client shows tasks where it left them.
package orderdb

import (
	"errors"
	"strings"
	"time"

	dbmodel "flowdeck/internal/db"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errNotInitialized = errors.New("order store is not initialized")

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore uses a shared DB. Caller owns and closes it.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &Store{db: db, now: time.Now}, nil
}

// LoadOrder returns the persisted Task Order of queueID, oldest first.
func (s *Store) LoadOrder(queueID string) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	var rows []dbmodel.TaskOrderEntry
	if err := s.db.Where("queue_id = ?", strings.TrimSpace(queueID)).Order("position ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.TaskID)
	}
	return ids, nil
}

// SaveOrder replaces the persisted Task Order of queueID. Empty and repeated
// ids are skipped.
func (s *Store) SaveOrder(queueID string, ids []string) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	queueID = strings.TrimSpace(queueID)
	rows := make([]dbmodel.TaskOrderEntry, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		rows = append(rows, dbmodel.TaskOrderEntry{QueueID: queueID, Position: len(rows), TaskID: id})
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("queue_id = ?", queueID).Delete(&dbmodel.TaskOrderEntry{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 200).Error
	})
}

func (s *Store) SaveSession(serverURL, token string) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	key := normalizeServer(serverURL)
	if key == "" {
		return errors.New("server url is required")
	}
	now := s.now().UTC().Unix()
	row := dbmodel.ServerSession{ServerURL: key, Token: token, UpdatedAt: now}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "server_url"}},
		DoUpdates: clause.Assignments(map[string]any{
			"token":      token,
			"updated_at": now,
		}),
	}).Create(&row).Error
}

// LoadSession returns the stored token for serverURL, or "" when none.
func (s *Store) LoadSession(serverURL string) (string, error) {
	if s == nil || s.db == nil {
		return "", errNotInitialized
	}
	var rows []dbmodel.ServerSession
	if err := s.db.Where("server_url = ?", normalizeServer(serverURL)).Limit(1).Find(&rows).Error; err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rows[0].Token, nil
}

func (s *Store) DeleteSession(serverURL string) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	return s.db.Where("server_url = ?", normalizeServer(serverURL)).Delete(&dbmodel.ServerSession{}).Error
}

func normalizeServer(serverURL string) string {
	return strings.TrimRight(strings.TrimSpace(serverURL), "/")
}
