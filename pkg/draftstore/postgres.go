package draftstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/Harborlane-Labs/concierge/core/pkg/contracts"
	"github.com/Harborlane-Labs/concierge/core/pkg/faults"
	"github.com/Harborlane-Labs/concierge/core/pkg/observability"
)

// PostgresStore implements Store with SQL persistence. The
// check-then-write gap is closed by pg_advisory_xact_lock scoped to one
// (tenant, kind) pair; the version column closes it a second time at
// commit so a lost lock can never produce a silent lost update.
type PostgresStore struct {
	db      *sql.DB
	policy  PublishPolicy
	metrics *observability.Metrics
}

// NewPostgresStore wraps db with the given publish policy.
func NewPostgresStore(db *sql.DB, policy PublishPolicy) *PostgresStore {
	if policy == "" {
		policy = PublishRetainDraft
	}
	return &PostgresStore{db: db, policy: policy}
}

// WithMetrics records version-conflict rejections on the given
// instruments.
func (s *PostgresStore) WithMetrics(m *observability.Metrics) *PostgresStore {
	s.metrics = m
	return s
}

const pgDraftSchema = `
CREATE TABLE IF NOT EXISTS draft_entities (
	tenant_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	draft_content JSONB,
	published_content JSONB,
	version BIGINT NOT NULL DEFAULT 0,
	published_version BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (tenant_id, kind)
);
`

// Init creates the schema.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, pgDraftSchema)
	return err
}

func (s *PostgresStore) GetDraft(ctx context.Context, tenantID, kind string) (*contracts.DraftSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT draft_content, published_content, version, published_version, updated_at
		FROM draft_entities WHERE tenant_id = $1 AND kind = $2`, tenantID, kind)

	snap, err := scanSnapshot(row, tenantID, kind, true)
	if err == sql.ErrNoRows {
		return nil, faults.NotFound(fmt.Sprintf("no %s configuration found", kind))
	}
	return snap, err
}

func (s *PostgresStore) GetPublished(ctx context.Context, tenantID, kind string) (*contracts.DraftSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT draft_content, published_content, version, published_version, updated_at
		FROM draft_entities WHERE tenant_id = $1 AND kind = $2`, tenantID, kind)

	snap, err := scanSnapshot(row, tenantID, kind, false)
	if err == sql.ErrNoRows {
		return nil, faults.NotFound(fmt.Sprintf("no %s configuration found", kind))
	}
	if err != nil {
		return nil, err
	}
	if snap.Content == nil {
		return nil, faults.NotFound(fmt.Sprintf("%s has never been published", kind))
	}
	return snap, nil
}

func (s *PostgresStore) UpdateDraft(ctx context.Context, tenantID, kind string, baseVersion int64, fn Mutator) (*contracts.DraftSnapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin draft transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := acquireAdvisoryLock(ctx, tx, tenantID, kind); err != nil {
		return nil, err
	}

	var (
		draftJSON sql.NullString
		pubJSON   sql.NullString
		version   int64
		pubVer    int64
	)
	row := tx.QueryRowContext(ctx, `
		SELECT draft_content, published_content, version, published_version
		FROM draft_entities WHERE tenant_id = $1 AND kind = $2`, tenantID, kind)
	scanErr := row.Scan(&draftJSON, &pubJSON, &version, &pubVer)

	now := time.Now().UTC()

	switch {
	case scanErr == sql.ErrNoRows:
		// First edit of this (tenant, kind) pair creates the row.
		if baseVersion != 0 {
			if s.metrics != nil {
				s.metrics.RecordDraftConflict(ctx)
			}
			return nil, faults.StateConflict(fmt.Sprintf("draft version conflict: expected version %d, entity does not exist", baseVersion))
		}
		next, err := fn(nil)
		if err != nil {
			return nil, err
		}
		nextJSON, err := json.Marshal(next)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal draft content: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO draft_entities (tenant_id, kind, draft_content, version, updated_at)
			VALUES ($1, $2, $3, 1, $4)`, tenantID, kind, nextJSON, now); err != nil {
			return nil, fmt.Errorf("failed to create draft entity: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit draft create: %w", err)
		}
		return &contracts.DraftSnapshot{
			TenantID: tenantID, Kind: kind, Content: next,
			IsDraft: true, Version: 1, UpdatedAt: now,
		}, nil

	case scanErr != nil:
		return nil, scanErr
	}

	current := decodeContent(draftJSON)
	if current == nil {
		current = decodeContent(pubJSON)
	}
	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	nextJSON, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal draft content: %w", err)
	}

	// Guarded write: the WHERE version clause detects a stale base even
	// if the advisory lock were ever bypassed.
	res, err := tx.ExecContext(ctx, `
		UPDATE draft_entities
		SET draft_content = $1, version = version + 1, updated_at = $2
		WHERE tenant_id = $3 AND kind = $4 AND version = $5`,
		nextJSON, now, tenantID, kind, baseVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to write draft: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if s.metrics != nil {
			s.metrics.RecordDraftConflict(ctx)
		}
		return nil, faults.StateConflict(fmt.Sprintf("draft version conflict: expected version %d, found %d", baseVersion, version))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit draft write: %w", err)
	}
	return &contracts.DraftSnapshot{
		TenantID: tenantID, Kind: kind, Content: next,
		IsDraft: true, Version: baseVersion + 1, PublishedVersion: pubVer, UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) Publish(ctx context.Context, tenantID, kind string) (*contracts.DraftSnapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin publish transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := acquireAdvisoryLock(ctx, tx, tenantID, kind); err != nil {
		return nil, err
	}

	var (
		draftJSON sql.NullString
		version   int64
	)
	row := tx.QueryRowContext(ctx, `
		SELECT draft_content, version FROM draft_entities
		WHERE tenant_id = $1 AND kind = $2`, tenantID, kind)
	if err := row.Scan(&draftJSON, &version); err != nil {
		if err == sql.ErrNoRows {
			return nil, faults.NotFound(fmt.Sprintf("no %s configuration found", kind))
		}
		return nil, err
	}
	if !draftJSON.Valid || draftJSON.String == "" {
		return nil, faults.StateConflict(fmt.Sprintf("%s has no draft to publish", kind))
	}

	now := time.Now().UTC()
	newVersion := version + 1

	query := `
		UPDATE draft_entities
		SET published_content = draft_content, version = $1, published_version = $1, updated_at = $2
		WHERE tenant_id = $3 AND kind = $4`
	if s.policy == PublishClearDraft {
		query = `
		UPDATE draft_entities
		SET published_content = draft_content, draft_content = NULL, version = $1, published_version = $1, updated_at = $2
		WHERE tenant_id = $3 AND kind = $4`
	}
	if _, err := tx.ExecContext(ctx, query, newVersion, now, tenantID, kind); err != nil {
		return nil, fmt.Errorf("failed to publish draft: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit publish: %w", err)
	}

	return &contracts.DraftSnapshot{
		TenantID: tenantID, Kind: kind, Content: decodeContent(draftJSON),
		IsDraft: false, Version: newVersion, PublishedVersion: newVersion, UpdatedAt: now,
	}, nil
}

// acquireAdvisoryLock serializes writers on one (tenant, kind) pair for
// the duration of the transaction. hashtext keeps the key space dense;
// the lock is never used as a general-purpose mutex.
func acquireAdvisoryLock(ctx context.Context, tx *sql.Tx, tenantID, kind string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, tenantID+":"+kind); err != nil {
		return fmt.Errorf("failed to acquire draft lock: %w", err)
	}
	return nil
}

func scanSnapshot(row *sql.Row, tenantID, kind string, preferDraft bool) (*contracts.DraftSnapshot, error) {
	var (
		draftJSON sql.NullString
		pubJSON   sql.NullString
		version   int64
		pubVer    int64
		updatedAt time.Time
	)
	if err := row.Scan(&draftJSON, &pubJSON, &version, &pubVer, &updatedAt); err != nil {
		return nil, err
	}

	snap := &contracts.DraftSnapshot{
		TenantID: tenantID, Kind: kind,
		Version: version, PublishedVersion: pubVer, UpdatedAt: updatedAt,
	}
	if preferDraft && draftJSON.Valid && draftJSON.String != "" {
		snap.Content = decodeContent(draftJSON)
		snap.IsDraft = true
		return snap, nil
	}
	snap.Content = decodeContent(pubJSON)
	snap.IsDraft = false
	return snap, nil
}

func decodeContent(v sql.NullString) map[string]any {
	if !v.Valid || v.String == "" {
		return nil
	}
	var content map[string]any
	if err := json.Unmarshal([]byte(v.String), &content); err != nil {
		return nil
	}
	return content
}
