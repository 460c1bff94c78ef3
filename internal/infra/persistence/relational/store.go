// Package relational persists the genealogy arena into normalized tables via
// GORM: one row per person or union, plus position-ordered join tables for
// the relationships and children sets.
package relational

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"familytree/internal/infra/persistence/memory"
	"familytree/pkg/domain"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Compile-time contract assertion.
var _ domain.PersistentStore = (*Store)(nil)

// DefaultPath is used when no database path is configured.
const DefaultPath = "familytree-relational.db"

// Config tunes the GORM connection.
type Config struct {
	Path          string
	LogLevel      string
	SlowThreshold time.Duration
	LogWriter     io.Writer
}

// Store mirrors the in-memory arena into relational tables. Writes for every
// touched record happen inside the commit, in one database transaction.
type Store struct {
	*memory.Store
	db *gorm.DB
}

func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info", "debug":
		return logger.Info
	default:
		return logger.Warn
	}
}

// Open initializes and returns a GORM database instance for path.
func Open(cfg Config) (*gorm.DB, error) {
	path := cfg.Path
	if path == "" {
		path = DefaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	w := cfg.LogWriter
	if w == nil {
		w = os.Stdout
	}
	slow := cfg.SlowThreshold
	if slow <= 0 {
		slow = time.Second
	}
	gormLogger := logger.New(
		log.New(w, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             slow,
			LogLevel:                  gormLogLevel(cfg.LogLevel),
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database using GORM: %w", err)
	}
	if err := db.AutoMigrate(
		&PersonRow{},
		&RelationshipRow{},
		&PersonRelationshipRow{},
		&RelationshipChildRow{},
	); err != nil {
		return nil, fmt.Errorf("GORM AutoMigrate failed: %w", err)
	}
	return db, nil
}

// NewStore opens the relational database and hydrates the arena from it.
func NewStore(cfg Config, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	s.Store = memory.NewStore(engine, append(opts, memory.WithCommitHook(s.persist))...)
	snapshot, err := s.load(context.Background())
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.ImportState(snapshot)
	return s, nil
}

// DB exposes the GORM handle.
func (s *Store) DB() *gorm.DB { return s.db }

// Close releases the underlying sql.DB.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB from GORM: %w", err)
	}
	return sqlDB.Close()
}

func (s *Store) load(ctx context.Context) (memory.Snapshot, error) {
	db := s.db.WithContext(ctx)
	var (
		persons  []PersonRow
		unions   []RelationshipRow
		links    []PersonRelationshipRow
		children []RelationshipChildRow
	)
	if err := db.Find(&persons).Error; err != nil {
		return memory.Snapshot{}, fmt.Errorf("failed to list persons: %w", err)
	}
	if err := db.Find(&unions).Error; err != nil {
		return memory.Snapshot{}, fmt.Errorf("failed to list relationships: %w", err)
	}
	if err := db.Order("person_id, position ASC").Find(&links).Error; err != nil {
		return memory.Snapshot{}, fmt.Errorf("failed to list person relationships: %w", err)
	}
	if err := db.Order("relationship_id, position ASC").Find(&children).Error; err != nil {
		return memory.Snapshot{}, fmt.Errorf("failed to list relationship children: %w", err)
	}

	linksByPerson := make(map[string][]string)
	for _, l := range links {
		linksByPerson[l.PersonID] = append(linksByPerson[l.PersonID], l.RelationshipID)
	}
	childrenByUnion := make(map[string][]string)
	for _, c := range children {
		childrenByUnion[c.RelationshipID] = append(childrenByUnion[c.RelationshipID], c.PersonID)
	}

	snapshot := memory.Snapshot{
		Persons:       make(map[string]domain.Person, len(persons)),
		Relationships: make(map[string]domain.Relationship, len(unions)),
	}
	for _, row := range persons {
		p, err := rowToPerson(row, linksByPerson[row.ID])
		if err != nil {
			return memory.Snapshot{}, fmt.Errorf("decode person %s: %w", row.ID, err)
		}
		snapshot.Persons[p.ID] = p
	}
	for _, row := range unions {
		r, err := rowToRelationship(row, childrenByUnion[row.ID])
		if err != nil {
			return memory.Snapshot{}, fmt.Errorf("decode relationship %s: %w", row.ID, err)
		}
		snapshot.Relationships[r.ID] = r
	}
	return snapshot, nil
}

func touchedIDs(changes []domain.Change) (persons, unions []string) {
	seen := make(map[string]struct{})
	for _, ch := range changes {
		var id string
		switch v := ch.After.(type) {
		case domain.Person:
			id = v.ID
		case domain.Relationship:
			id = v.ID
		}
		if id == "" {
			switch v := ch.Before.(type) {
			case domain.Person:
				id = v.ID
			case domain.Relationship:
				id = v.ID
			}
		}
		key := string(ch.Entity) + "/" + id
		if id == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		switch ch.Entity {
		case domain.EntityPerson:
			persons = append(persons, id)
		case domain.EntityRelationship:
			unions = append(unions, id)
		}
	}
	return persons, unions
}

// persist writes the final state of every record touched by changes.
func (s *Store) persist(ctx context.Context, snapshot memory.Snapshot, changes []domain.Change) error {
	personIDs, unionIDs := touchedIDs(changes)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range personIDs {
			if err := tx.Where("person_id = ?", id).Delete(&PersonRelationshipRow{}).Error; err != nil {
				return fmt.Errorf("failed to clear relationships of person %s: %w", id, err)
			}
			p, ok := snapshot.Persons[id]
			if !ok {
				if err := tx.Delete(&PersonRow{}, "id = ?", id).Error; err != nil {
					return fmt.Errorf("failed to delete person %s: %w", id, err)
				}
				continue
			}
			row := personToRow(p)
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
				return fmt.Errorf("failed to save person %s: %w", id, err)
			}
			if len(p.Relationships) > 0 {
				links := make([]PersonRelationshipRow, 0, len(p.Relationships))
				for i, rid := range p.Relationships {
					links = append(links, PersonRelationshipRow{PersonID: id, RelationshipID: rid, Position: i})
				}
				if err := tx.Create(&links).Error; err != nil {
					return fmt.Errorf("failed to save relationships of person %s: %w", id, err)
				}
			}
		}
		for _, id := range unionIDs {
			if err := tx.Where("relationship_id = ?", id).Delete(&RelationshipChildRow{}).Error; err != nil {
				return fmt.Errorf("failed to clear children of relationship %s: %w", id, err)
			}
			r, ok := snapshot.Relationships[id]
			if !ok {
				if err := tx.Delete(&RelationshipRow{}, "id = ?", id).Error; err != nil {
					return fmt.Errorf("failed to delete relationship %s: %w", id, err)
				}
				continue
			}
			row := relationshipToRow(r)
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
				return fmt.Errorf("failed to save relationship %s: %w", id, err)
			}
			if len(r.Children) > 0 {
				rows := make([]RelationshipChildRow, 0, len(r.Children))
				for i, cid := range r.Children {
					rows = append(rows, RelationshipChildRow{RelationshipID: id, PersonID: cid, Position: i})
				}
				if err := tx.Create(&rows).Error; err != nil {
					return fmt.Errorf("failed to save children of relationship %s: %w", id, err)
				}
			}
		}
		return nil
	})
}
