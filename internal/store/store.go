package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/ncruces/go-sqlite3/gormlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	MaxDescriptionLength = 30
	MaxExtensionLength   = 10
)

var (
	ErrNotFound       = errors.New("file not found")
	ErrInvalidRecord  = errors.New("invalid file record")
	ErrDescriptionLen = fmt.Errorf("%w: description is longer than %d characters", ErrInvalidRecord, MaxDescriptionLength)
)

type Store struct {
	db *gorm.DB
}

// Open connects to the SQLite database at dsn and migrates the schema.
func Open(ctx context.Context, dsn string, level slog.Level) (*Store, error) {
	var logLevel logger.LogLevel
	switch level {
	case slog.LevelError:
		logLevel = logger.Error
	case slog.LevelWarn, slog.LevelInfo:
		logLevel = logger.Warn
	default:
		logLevel = logger.Error
	}

	db, err := gorm.Open(gormlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if level == slog.LevelDebug {
		db = db.Debug()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.WithContext(ctx).Exec("PRAGMA journal_mode=wal; PRAGMA busy_timeout=5000").Error; err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	return New(ctx, db)
}

// New wraps an open database and migrates the schema.
func New(ctx context.Context, db *gorm.DB) (*Store, error) {
	if err := db.WithContext(ctx).AutoMigrate(&File{}); err != nil {
		return nil, fmt.Errorf("migrate files: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Create(ctx context.Context, f *File) error {
	if err := f.Validate(); err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Create(f).Error; err != nil {
		return fmt.Errorf("create file %s: %w", f.OriginalName, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id uint) (*File, error) {
	var f File
	if err := s.db.WithContext(ctx).First(&f, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get file %d: %w", id, err)
	}
	return &f, nil
}

// List returns every record, newest first.
func (s *Store) List(ctx context.Context) ([]File, error) {
	var files []File
	if err := s.db.WithContext(ctx).Order("created_at desc").Order("id desc").Find(&files).Error; err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return files, nil
}

// Patch carries metadata edits. Nil or empty fields keep the stored value.
type Patch struct {
	OriginalName *string
	Description  *string
}

func (s *Store) Update(ctx context.Context, id uint, patch Patch) (*File, error) {
	f, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.OriginalName != nil && *patch.OriginalName != "" {
		f.OriginalName = *patch.OriginalName
	}
	if patch.Description != nil && *patch.Description != "" {
		desc := *patch.Description
		f.Description = &desc
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Save(f).Error; err != nil {
		return nil, fmt.Errorf("update file %d: %w", id, err)
	}
	return f, nil
}

func (s *Store) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&File{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete file %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

// Validate enforces the column limits SQLite does not.
func (f *File) Validate() error {
	switch {
	case f.OriginalName == "":
		return fmt.Errorf("%w: original name is empty", ErrInvalidRecord)
	case f.StoredName == "" || f.Path == "":
		return fmt.Errorf("%w: stored name and path are required", ErrInvalidRecord)
	case utf8.RuneCountInString(f.Extension) > MaxExtensionLength:
		return fmt.Errorf("%w: extension %q is longer than %d characters", ErrInvalidRecord, f.Extension, MaxExtensionLength)
	case f.Description != nil && utf8.RuneCountInString(*f.Description) > MaxDescriptionLength:
		return ErrDescriptionLen
	}
	return nil
}
