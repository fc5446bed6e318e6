package storage

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// kvRow is one key of a SQL tier.
type kvRow struct {
	Key       string    `gorm:"type:text;primaryKey"`
	Value     []byte    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (kvRow) TableName() string { return "shell_kv" }

// SQL is a tier stored in a relational table. Several processes pointing at
// the same sqlite file or postgres database see one shared keyspace.
type SQL struct {
	db    *gorm.DB
	label string
}

type SQLConfig struct {
	Driver string // "sqlite" or "postgres"
	DSN    string
	Label  string
	LogSQL bool
}

func OpenSQL(cfg SQLConfig) (*SQL, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("storage: unsupported sql driver %q", cfg.Driver)
	}
	lvl := logger.Silent
	if cfg.LogSQL {
		lvl = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(log.New(log.Writer(), "", log.LstdFlags), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  lvl,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	return NewSQL(db, cfg.Label)
}

// NewSQL wraps an existing gorm handle and migrates the key/value table.
func NewSQL(db *gorm.DB, label string) (*SQL, error) {
	if label == "" {
		label = "sql"
	}
	if err := db.AutoMigrate(&kvRow{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &SQL{db: db, label: label}, nil
}

func (s *SQL) Name() string { return s.label }

func (s *SQL) Get(key string) ([]byte, error) {
	var row kvRow
	if err := s.db.First(&row, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return row.Value, nil
}

func (s *SQL) Set(key string, value []byte) error {
	row := kvRow{Key: key, Value: append([]byte(nil), value...), UpdatedAt: time.Now().UTC()}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *SQL) Remove(key string) error {
	if err := s.db.Where("key = ?", key).Delete(&kvRow{}).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *SQL) Keys(prefix string) ([]string, error) {
	var keys []string
	// "_" and "%" in prefix act as LIKE wildcards, so the match is narrowed again below.
	err := s.db.Model(&kvRow{}).
		Where("key LIKE ?", prefix+"%").
		Order("key asc").
		Pluck("key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	out := keys[:0]
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
