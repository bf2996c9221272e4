package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mattdh/officepulse/internal/models"
)

// Postgres is the GORM-backed Store. Schema mirrors the historical
// tables: entries, settings, user_streaks, tie_breakers,
// tie_breaker_participants, tie_breaker_games.
type Postgres struct {
	db  *gorm.DB
	log *slog.Logger
}

var _ Store = (*Postgres)(nil)

// OpenPostgres connects, tunes the pool and migrates the schema. The
// settings row is seeded with defaults on first run.
func OpenPostgres(dsn string, lg *slog.Logger) (*Postgres, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true, // works behind transaction-pooling PgBouncer
	}), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true, // duplicate keys surface as gorm.ErrDuplicatedKey
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxIdleTime(60 * time.Second)
	sqlDB.SetConnMaxLifetime(10 * time.Minute)

	if err := db.AutoMigrate(
		&models.AttendanceEntry{},
		&models.Settings{},
		&models.Streak{},
		&models.TieBreaker{},
		&models.Participant{},
		&models.GameSession{},
	); err != nil {
		return nil, err
	}

	p := &Postgres{db: db, log: lg.With(slog.String("component", "store"))}
	if err := p.seedSettings(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Postgres) seedSettings() error {
	var count int64
	if err := p.db.Model(&models.Settings{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	def := models.DefaultSettings()
	p.log.Info("seeding default settings")
	return p.db.Create(&def).Error
}

// ----------------- attendance -----------------

func (p *Postgres) ListEntries(ctx context.Context, f EntryFilter) ([]models.AttendanceEntry, error) {
	q := p.db.WithContext(ctx).Model(&models.AttendanceEntry{})
	if f.DateFrom != "" {
		q = q.Where("date >= ?", f.DateFrom)
	}
	if f.DateTo != "" {
		q = q.Where("date <= ?", f.DateTo)
	}
	if len(f.People) > 0 {
		q = q.Where("person IN ?", f.People)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	var out []models.AttendanceEntry
	err := q.Order("date, time, person").Find(&out).Error
	return out, err
}

func (p *Postgres) PutEntry(ctx context.Context, e models.AttendanceEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return p.db.WithContext(ctx).Save(&e).Error
}

func (p *Postgres) DeleteEntry(ctx context.Context, id string) error {
	res := p.db.WithContext(ctx).Delete(&models.AttendanceEntry{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ----------------- settings -----------------

func (p *Postgres) Settings(ctx context.Context) (models.Settings, error) {
	var s models.Settings
	err := p.db.WithContext(ctx).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.DefaultSettings(), nil
	}
	return s, err
}

func (p *Postgres) SaveSettings(ctx context.Context, s models.Settings) error {
	s.ID = 1
	return p.db.WithContext(ctx).Save(&s).Error
}

// ----------------- streaks -----------------

func (p *Postgres) ReplaceStreaks(ctx context.Context, streaks []models.Streak) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.Streak{}).Error; err != nil {
			return err
		}
		if len(streaks) == 0 {
			return nil
		}
		return tx.Create(&streaks).Error
	})
}

func (p *Postgres) ListStreaks(ctx context.Context) ([]models.Streak, error) {
	var out []models.Streak
	err := p.db.WithContext(ctx).Order("person").Find(&out).Error
	return out, err
}

func (p *Postgres) DeleteStreaks(ctx context.Context) error {
	return p.db.WithContext(ctx).Where("1 = 1").Delete(&models.Streak{}).Error
}

// ----------------- tie-breakers -----------------

func (p *Postgres) ListTieBreakers(ctx context.Context, mode string) ([]models.TieBreaker, error) {
	q := p.db.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB { return db.Order("person") }).
		Preload("Games", func(db *gorm.DB) *gorm.DB { return db.Order("created_at, id") })
	if mode != "" {
		q = q.Where("mode = ?", mode)
	}
	var out []models.TieBreaker
	err := q.Order(`CASE status
			WHEN 'in_progress' THEN 1
			WHEN 'pending' THEN 2
			WHEN 'completed' THEN 3
			ELSE 4 END, created_at DESC`).
		Find(&out).Error
	return out, err
}

func (p *Postgres) GetTieBreaker(ctx context.Context, id string) (models.TieBreaker, error) {
	var tb models.TieBreaker
	err := p.db.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB { return db.Order("person") }).
		Preload("Games", func(db *gorm.DB) *gorm.DB { return db.Order("created_at, id") }).
		First(&tb, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.TieBreaker{}, ErrNotFound
	}
	return tb, err
}

func (p *Postgres) CreateTieBreaker(ctx context.Context, tb models.TieBreaker) error {
	if tb.ID == "" {
		tb.ID = uuid.NewString()
	}
	for i := range tb.Participants {
		if tb.Participants[i].ID == "" {
			tb.Participants[i].ID = uuid.NewString()
		}
		tb.Participants[i].TieBreakerID = tb.ID
	}
	err := p.db.WithContext(ctx).Create(&tb).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrConflict
	}
	return err
}

func (p *Postgres) UpdateTieBreaker(ctx context.Context, tb models.TieBreaker) error {
	bare := tb
	bare.Participants, bare.Games = nil, nil
	res := p.db.WithContext(ctx).Model(&models.TieBreaker{}).
		Where("id = ?", tb.ID).
		Select("status", "points_applied", "award_points", "resolved_at").
		Updates(&bare)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) UpdateParticipant(ctx context.Context, part models.Participant) error {
	res := p.db.WithContext(ctx).Model(&models.Participant{}).
		Where("id = ?", part.ID).
		Select("game_choice", "ready", "winner").
		Updates(&part)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) GetSession(ctx context.Context, id string) (models.GameSession, error) {
	var s models.GameSession
	err := p.db.WithContext(ctx).First(&s, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.GameSession{}, ErrNotFound
	}
	return s, err
}

func (p *Postgres) CreateSession(ctx context.Context, s models.GameSession) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	err := p.db.WithContext(ctx).Create(&s).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrConflict
	}
	return err
}

func (p *Postgres) UpdateSession(ctx context.Context, s models.GameSession) error {
	res := p.db.WithContext(ctx).Model(&models.GameSession{}).
		Where("id = ?", s.ID).
		Select("player2", "status", "board", "current_turn", "winner", "completed_at").
		Updates(&s)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteAllTieBreakers(ctx context.Context) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.GameSession{}).Error; err != nil {
			return err
		}
		if err := tx.Where("1 = 1").Delete(&models.Participant{}).Error; err != nil {
			return err
		}
		return tx.Where("1 = 1").Delete(&models.TieBreaker{}).Error
	})
}

func (p *Postgres) DeleteSessionsFor(ctx context.Context, tieBreakerID string) error {
	return p.db.WithContext(ctx).
		Where("tie_breaker_id = ?", tieBreakerID).
		Delete(&models.GameSession{}).Error
}
