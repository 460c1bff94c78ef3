// Package postgres provides a Postgres-backed persistent store that mirrors the
// in-memory semantics and detects concurrent writers through a revision row.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"familytree/internal/infra/persistence/memory"
	"familytree/pkg/domain"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// Default DSN keeps parity with OpenPersistentStore defaults while allowing overrides via env.
	defaultDSN = "postgres://localhost/familytree?sslmode=disable"

	stateTable    = "state"
	revisionTable = "state_revision"
	revisionRowID = 1
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex

	psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

	buckets = []string{"persons", "relationships"}
)

// Store persists state to Postgres while reusing the in-memory implementation for transactions.
type Store struct {
	*memory.Store
	db *sql.DB

	mu       sync.Mutex
	revision int64
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN).
// It ensures the snapshot and revision tables exist and hydrates the in-memory
// store from any existing snapshot.
func NewStore(dsn string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureTables(ctx, db); err != nil {
		return nil, err
	}
	s := &Store{db: db}
	s.Store = memory.NewStore(engine, append(opts, memory.WithCommitHook(s.persist))...)
	if err := s.reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// RunInTransaction applies fn through the in-memory arena; the snapshot is
// written inside the commit. A write conflict reloads the latest snapshot so
// a retry observes the winner's state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil && errors.Is(err, &domain.Error{Kind: domain.KindConflict, Reason: domain.ReasonWriteConflict}) {
		if rErr := s.reload(ctx); rErr != nil {
			return res, fmt.Errorf("reload after conflict: %w", rErr)
		}
	}
	return res, err
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Revision reports the last snapshot revision observed by this process.
func (s *Store) Revision() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

func ensureTables(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`,
		`CREATE TABLE IF NOT EXISTS state_revision (
		id INTEGER PRIMARY KEY,
		revision BIGINT NOT NULL
	)`,
	}
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure state tables: %w", err)
		}
	}
	query, args, err := psql.Insert(revisionTable).
		Columns("id", "revision").
		Values(revisionRowID, 0).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build revision seed: %w", err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("seed revision: %w", err)
	}
	return nil
}

func (s *Store) reload(ctx context.Context) error {
	snapshot, err := loadSnapshot(ctx, s.db)
	if err != nil {
		return err
	}
	rev, err := loadRevision(ctx, s.db)
	if err != nil {
		return err
	}
	s.Store.ImportState(snapshot)
	s.mu.Lock()
	s.revision = rev
	s.mu.Unlock()
	return nil
}

func loadRevision(ctx context.Context, db *sql.DB) (int64, error) {
	query, args, err := psql.Select("revision").From(revisionTable).Where(sq.Eq{"id": revisionRowID}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build revision query: %w", err)
	}
	var rev int64
	if err := db.QueryRowContext(ctx, query, args...).Scan(&rev); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("select revision: %w", err)
	}
	return rev, nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	query, args, err := psql.Select("bucket", "payload").From(stateTable).ToSql()
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("build state query: %w", err)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	targets := map[string]any{
		"persons":       &snapshot.Persons,
		"relationships": &snapshot.Relationships,
	}
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan state: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		if target, ok := targets[bucket]; ok {
			if err := json.Unmarshal(payload, target); err != nil {
				return memory.Snapshot{}, fmt.Errorf("decode %s: %w", bucket, err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate state: %w", err)
	}
	return snapshot, nil
}

// persist runs as the memory store's commit hook. It bumps the revision row
// conditionally and rewrites the buckets in the same database transaction.
func (s *Store) persist(ctx context.Context, snapshot memory.Snapshot, _ []domain.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	next := s.revision + 1
	query, args, err := psql.Update(revisionTable).
		Set("revision", next).
		Where(sq.Eq{"id": revisionRowID, "revision": s.revision}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build revision update: %w", err)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("bump revision: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("revision rows affected: %w", err)
	} else if n == 0 {
		return domain.Conflict(domain.ReasonWriteConflict, "tree was modified by another writer")
	}

	for _, bucket := range buckets {
		var data []byte
		switch bucket {
		case "persons":
			data, err = json.Marshal(snapshot.Persons)
		case "relationships":
			data, err = json.Marshal(snapshot.Relationships)
		}
		if err != nil {
			return fmt.Errorf("encode %s: %w", bucket, err)
		}
		query, args, err := psql.Insert(stateTable).
			Columns("bucket", "payload").
			Values(bucket, data).
			Suffix("ON CONFLICT (bucket) DO UPDATE SET payload = EXCLUDED.payload").
			ToSql()
		if err != nil {
			return fmt.Errorf("build upsert %s: %w", bucket, err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	s.revision = next
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
