package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TicketStatus is the latest known outcome of a send request.
type TicketStatus struct {
	RequestID string `gorm:"primaryKey"`
	Status    string
	Provider  string
	// Detail holds the ticket id once accepted, or the failure reason.
	Detail    string
	UpdatedAt time.Time
}

var ErrTicketNotFound = errors.New("ticket status not found")

type StatusStore struct {
	db        *gorm.DB
	tableName string
	now       func() time.Time
}

func NewStatusStore(db *gorm.DB, tableName string) (*StatusStore, error) {
	if tableName == "" {
		tableName = "push_tickets"
	}
	if err := db.Table(tableName).AutoMigrate(&TicketStatus{}); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", tableName, err)
	}
	return &StatusStore{
		db:        db,
		tableName: tableName,
		now:       time.Now,
	}, nil
}

func (s *StatusStore) UpdateStatus(ctx context.Context, requestID, status, provider, detail string) error {
	row := TicketStatus{
		RequestID: requestID,
		Status:    status,
		Provider:  provider,
		Detail:    detail,
		UpdatedAt: s.now(),
	}
	return s.db.WithContext(ctx).Table(s.tableName).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "request_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "provider", "detail", "updated_at"}),
		}).Create(&row).Error
}

// Get returns the stored status for requestID.
func (s *StatusStore) Get(ctx context.Context, requestID string) (*TicketStatus, error) {
	var row TicketStatus
	err := s.db.WithContext(ctx).Table(s.tableName).Where("request_id = ?", requestID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTicketNotFound, requestID)
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
