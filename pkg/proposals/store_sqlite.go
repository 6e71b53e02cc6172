package proposals

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Harborlane-Labs/concierge/core/pkg/contracts"
	"github.com/Harborlane-Labs/concierge/core/pkg/faults"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the durable Store implementation.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps db and runs migrations.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS proposals (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		params JSON,
		payload_hash TEXT NOT NULL DEFAULT '',
		tier TEXT NOT NULL,
		state TEXT NOT NULL,
		preview TEXT NOT NULL DEFAULT '',
		result JSON,
		retryable INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_proposals_tenant_state ON proposals (tenant_id, state);
	CREATE INDEX IF NOT EXISTS idx_proposals_state_expires ON proposals (state, expires_at);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

const proposalColumns = `id, tenant_id, session_id, tool_name, params, payload_hash, tier, state, preview, result, retryable, created_at, expires_at, updated_at`

func (s *SQLiteStore) Create(ctx context.Context, p *contracts.Proposal) error {
	paramsJSON, err := json.Marshal(p.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal proposal params: %w", err)
	}

	query := `INSERT INTO proposals (` + proposalColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		p.ID, p.TenantID, p.SessionID, p.ToolName, string(paramsJSON), p.PayloadHash,
		string(p.Tier), string(p.State), p.Preview, boolToInt(p.Retryable),
		p.CreatedAt.UTC().Format(time.RFC3339Nano),
		p.ExpiresAt.UTC().Format(time.RFC3339Nano),
		p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert proposal: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*contracts.Proposal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id = ?`, id)
	p, err := scanProposal(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, faults.NotFound("proposal not found")
		}
		return nil, err
	}
	return p, nil
}

// Transition applies a guarded update: the row only changes when it is
// still PENDING, which linearizes concurrent confirm/reject/expire for
// one id without a separate lock.
func (s *SQLiteStore) Transition(ctx context.Context, id string, to contracts.ProposalState, upd TransitionUpdate) (bool, error) {
	if !to.Terminal() {
		return false, faults.StateConflict(fmt.Sprintf("cannot transition to non-terminal state %s", to))
	}

	var resultJSON any
	if upd.Result != nil {
		b, err := json.Marshal(upd.Result)
		if err != nil {
			return false, fmt.Errorf("failed to marshal proposal result: %w", err)
		}
		resultJSON = string(b)
	}
	at := upd.At
	if at.IsZero() {
		at = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE proposals
		SET state = ?, result = ?, retryable = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		string(to), resultJSON, boolToInt(upd.Retryable),
		at.UTC().Format(time.RFC3339Nano),
		id, string(contracts.ProposalPending),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Either missing or already terminal; disambiguate for callers.
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return false, getErr
		}
		return false, nil
	}
	return true, nil
}

func (s *SQLiteStore) ListPending(ctx context.Context, tenantID, sessionID string) ([]*contracts.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE tenant_id = ? AND state = ?`
	args := []any{tenantID, string(contracts.ProposalPending)}
	if sessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE proposals
		SET state = ?, updated_at = ?
		WHERE state = ? AND expires_at <= ?`,
		string(contracts.ProposalExpired),
		now.UTC().Format(time.RFC3339Nano),
		string(contracts.ProposalPending),
		now.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) ListStalePending(ctx context.Context, cutoff time.Time) ([]*contracts.Proposal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+proposalColumns+` FROM proposals
		WHERE state = ? AND created_at < ?
		ORDER BY created_at ASC`,
		string(contracts.ProposalPending),
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (*contracts.Proposal, error) {
	var (
		id, tenantID, sessionID, toolName string
		paramsJSON                        sql.NullString
		payloadHash, tier, state, preview string
		resultJSON                        sql.NullString
		retryable                         int
		createdAt, expiresAt, updatedAt   string
	)
	err := row.Scan(&id, &tenantID, &sessionID, &toolName, &paramsJSON, &payloadHash,
		&tier, &state, &preview, &resultJSON, &retryable, &createdAt, &expiresAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	var params map[string]any
	if paramsJSON.Valid && paramsJSON.String != "" {
		_ = json.Unmarshal([]byte(paramsJSON.String), &params)
	}
	var result map[string]any
	if resultJSON.Valid && resultJSON.String != "" {
		_ = json.Unmarshal([]byte(resultJSON.String), &result)
	}

	return &contracts.Proposal{
		ID:          id,
		TenantID:    tenantID,
		SessionID:   sessionID,
		ToolName:    toolName,
		Params:      params,
		PayloadHash: payloadHash,
		Tier:        contracts.TrustTier(tier),
		State:       contracts.ProposalState(state),
		Preview:     preview,
		Result:      result,
		Retryable:   retryable != 0,
		CreatedAt:   parseTime(createdAt),
		ExpiresAt:   parseTime(expiresAt),
		UpdatedAt:   parseTime(updatedAt),
	}, nil
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
