package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"daotreasury/core/events"
	"daotreasury/core/types"
	"daotreasury/crypto"
	"daotreasury/native/treasury"
	"daotreasury/observability"
)

// Payout statuses.
const (
	PayoutPaid   = "PAID"
	PayoutFailed = "FAILED"
)

// EventRecord is one ledger event as written to the journal.
type EventRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"index"`
	Type       string    `gorm:"size:64;index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time
}

// PayoutRecord tracks every outbound transfer the ledger requested.
type PayoutRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"index"`
	Reason     string    `gorm:"size:16;index"`
	ProposalID *uint64
	Recipient  string `gorm:"size:128;index"`
	Amount     string `gorm:"size:80"`
	Status     string `gorm:"size:16;index"`
	Error      string `gorm:"type:text"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AutoMigrate performs all schema migrations for the journal.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&EventRecord{}, &PayoutRecord{})
}

// Dialector picks the gorm driver for dsn. postgres:// and postgresql:// URLs
// use Postgres; anything else is opened as SQLite.
func Dialector(dsn string) gorm.Dialector {
	trimmed := strings.TrimSpace(dsn)
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return postgres.Open(trimmed)
	}
	return sqlite.Open(trimmed)
}

// Journal persists ledger events and payout attempts. It implements
// events.Emitter and wraps a treasury.Vault.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open connects to dsn and migrates the schema.
func Open(dsn string, log *slog.Logger) (*Journal, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("journal: dsn required")
	}
	db, err := gorm.Open(Dialector(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	return New(db, log)
}

// New wraps an existing connection.
func New(db *gorm.DB, log *slog.Logger) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("journal: database required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Journal{db: db, logger: log, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type typedEvent interface {
	Event() *types.Event
}

// Emit writes evt to the journal. Failures are logged and counted; they never
// reach the ledger.
func (j *Journal) Emit(evt events.Event) {
	typed, ok := evt.(typedEvent)
	if !ok {
		return
	}
	raw := typed.Event()
	if raw == nil {
		return
	}
	if err := j.record(raw); err != nil {
		observability.Events().RecordDropped(raw.Type)
		j.logger.Error("journal event dropped", "type", raw.Type, "sequence", raw.Sequence, "error", err)
		return
	}
	observability.Events().RecordEvent(raw.Type)
}

func (j *Journal) record(evt *types.Event) error {
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return err
	}
	return j.db.Create(&EventRecord{
		ID:         uuid.New(),
		Sequence:   evt.Sequence,
		Type:       evt.Type,
		Attributes: string(attrs),
		CreatedAt:  j.now(),
	}).Error
}

// Event is the decoded form of an EventRecord.
type Event struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// ListEvents returns the newest events first. An empty eventType matches any.
func (j *Journal) ListEvents(ctx context.Context, eventType string, limit int) ([]Event, error) {
	var rows []EventRecord
	query := j.db.WithContext(ctx).Order("sequence desc").Order("created_at desc").Limit(clampLimit(limit))
	if eventType = strings.TrimSpace(eventType); eventType != "" {
		query = query.Where("type = ?", eventType)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(rows))
	for _, row := range rows {
		attrs := map[string]string{}
		if row.Attributes != "" {
			if err := json.Unmarshal([]byte(row.Attributes), &attrs); err != nil {
				return nil, fmt.Errorf("journal: decode event %s: %w", row.ID, err)
			}
		}
		out = append(out, Event{Sequence: row.Sequence, Type: row.Type, Attributes: attrs, CreatedAt: row.CreatedAt})
	}
	return out, nil
}

// ListPayouts returns payout attempts newest first, optionally filtered by status.
func (j *Journal) ListPayouts(ctx context.Context, status string, limit int) ([]PayoutRecord, error) {
	var rows []PayoutRecord
	query := j.db.WithContext(ctx).Order("sequence desc").Limit(clampLimit(limit))
	if status = strings.ToUpper(strings.TrimSpace(status)); status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 500:
		return 500
	default:
		return limit
	}
}

// Vault returns a treasury.Vault that forwards to next and records the result.
// A payout the journal cannot record is still reported as successful when next
// succeeded, since the ledger has already committed it.
func (j *Journal) Vault(next treasury.Vault) treasury.Vault {
	return treasury.FuncVault(func(ctx context.Context, payout treasury.Payout) error {
		var payErr error
		if next != nil {
			payErr = next.Pay(ctx, payout)
		}
		record := &PayoutRecord{
			ID:         uuid.New(),
			Sequence:   payout.Sequence,
			Reason:     string(payout.Reason),
			ProposalID: payout.ProposalID,
			Recipient:  crypto.MemberAddress(payout.Recipient).String(),
			Amount:     payout.Amount.String(),
			Status:     PayoutPaid,
		}
		if payErr != nil {
			record.Status = PayoutFailed
			record.Error = payErr.Error()
		}
		if err := j.db.WithContext(context.WithoutCancel(ctx)).Create(record).Error; err != nil {
			j.logger.Error("journal payout not recorded", "sequence", payout.Sequence, "error", errors.Join(err, payErr))
		}
		return payErr
	})
}
