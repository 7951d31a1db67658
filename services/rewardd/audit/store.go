package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"capsupply/core/events"
	"capsupply/core/types"
)

const defaultLimit = 100

// Record is one persisted engine event.
type Record struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Type       string    `gorm:"size:64;index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"index"`
}

// Event decodes the record back into its event form.
func (r Record) Event() (types.Event, error) {
	ev := types.Event{Type: r.Type, Attributes: map[string]string{}}
	if r.Attributes == "" {
		return ev, nil
	}
	if err := json.Unmarshal([]byte(r.Attributes), &ev.Attributes); err != nil {
		return types.Event{}, fmt.Errorf("decode audit record %s: %w", r.ID, err)
	}
	return ev, nil
}

// Open connects to the audit database. postgres:// DSNs use the postgres
// driver; anything else is treated as a sqlite DSN, and an empty DSN opens a
// private in-memory database.
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		dialector = postgres.Open(dsn)
	case dsn == "":
		dialector = sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	default:
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	return db, nil
}

// Store appends engine events to the audit table. It satisfies
// events.Emitter so it can sit in the engine's emitter chain.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// New migrates the schema and returns a store.
func New(db *gorm.DB, log *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("audit: db required")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return &Store{db: db, logger: log, now: time.Now}, nil
}

// Emit persists the event. Write failures are logged and never block the
// engine.
func (s *Store) Emit(e events.Event) {
	if s == nil || e == nil {
		return
	}
	ev := e.Event()
	if ev == nil {
		return
	}
	if err := s.Append(context.Background(), *ev); err != nil {
		s.logger.Error("audit append failed", "type", ev.Type, "error", err)
	}
}

// Append stores a single event.
func (s *Store) Append(ctx context.Context, ev types.Event) error {
	attrs, err := json.Marshal(ev.Attributes)
	if err != nil {
		return err
	}
	record := Record{
		ID:         uuid.New(),
		Type:       ev.Type,
		Attributes: string(attrs),
		CreatedAt:  s.now().UTC(),
	}
	return s.db.WithContext(ctx).Create(&record).Error
}

// Recent returns the newest records first, optionally filtered by type.
func (s *Store) Recent(ctx context.Context, kind string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 1000 {
		limit = defaultLimit
	}
	query := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if kind = strings.TrimSpace(kind); kind != "" {
		query = query.Where("type = ?", kind)
	}
	var records []Record
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// Count returns how many records of kind are stored; an empty kind counts all.
func (s *Store) Count(ctx context.Context, kind string) (int64, error) {
	var count int64
	query := s.db.WithContext(ctx).Model(&Record{})
	if kind = strings.TrimSpace(kind); kind != "" {
		query = query.Where("type = ?", kind)
	}
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
