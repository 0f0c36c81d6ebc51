package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"vehicheck/internal/logger"
	"vehicheck/pkg/model"
)

// Snapshot is a best-effort diagnostic capture of a failing portal page,
// kept for offline adapter maintenance. Not part of the result contract.
type Snapshot struct {
	ID          string `gorm:"primaryKey"`
	User        string
	Portal      string
	FailureKind string
	Message     string
	ImagePath   string
	HTMLPath    string
	CreatedAt   time.Time
}

// SnapshotStore persists snapshots: metadata in sqlite, page bytes on disk.
type SnapshotStore struct {
	db  *gorm.DB
	dir string
	log logger.Logger
}

func Open(dsn, prefix, dir string, l logger.Logger) (*SnapshotStore, error) {
	if l == nil {
		l = logger.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{TablePrefix: prefix},
		Logger:         NewGormLogger(l),
	})
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	if err := db.AutoMigrate(&Snapshot{}); err != nil {
		return nil, fmt.Errorf("migrate snapshot schema: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot dir: %w", err)
	}
	return &SnapshotStore{db: db, dir: dir, log: l}, nil
}

// Save writes the page capture to disk and records it. Either byte slice may
// be empty when the capture itself failed.
func (s *SnapshotStore) Save(ctx context.Context, user model.UserKey, portal model.Portal, f *model.Failure, image []byte, html string) error {
	snap := Snapshot{
		ID:          uuid.NewString(),
		User:        string(user),
		Portal:      string(portal),
		FailureKind: string(f.Kind),
		Message:     f.Message,
		CreatedAt:   time.Now(),
	}
	if len(image) > 0 {
		p := filepath.Join(s.dir, snap.ID+".png")
		if err := os.WriteFile(p, image, 0o644); err == nil {
			snap.ImagePath = p
		} else {
			s.log.Warn("snapshot image not written", "error", err)
		}
	}
	if html != "" {
		p := filepath.Join(s.dir, snap.ID+".html")
		if err := os.WriteFile(p, []byte(html), 0o644); err == nil {
			snap.HTMLPath = p
		} else {
			s.log.Warn("snapshot html not written", "error", err)
		}
	}
	return s.db.WithContext(ctx).Create(&snap).Error
}

// Recent returns the latest n snapshots, newest first.
func (s *SnapshotStore) Recent(ctx context.Context, n int) ([]Snapshot, error) {
	var out []Snapshot
	err := s.db.WithContext(ctx).Order("created_at desc").Limit(n).Find(&out).Error
	return out, err
}
