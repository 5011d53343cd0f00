package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/lib/pq"

	"github.com/basketfi/fund-backend/internal/domain"
)

var terminalStates = []string{
	string(domain.MintComplete),
	string(domain.MintFailed),
	string(domain.MintFailedRefunded),
	string(domain.MintFailedNoRefund),
	string(domain.MintExpired),
}

// pendingMintRepository implements domain.PendingMintRepository
type pendingMintRepository struct {
	db *DB
}

// NewPendingMintRepository creates a new pending mint repository
func NewPendingMintRepository(db *DB) domain.PendingMintRepository {
	return &pendingMintRepository{db: db}
}

// Create stores a new pending mint
func (r *pendingMintRepository) Create(ctx context.Context, mint *domain.PendingMint) error {
	query := `
		INSERT INTO pending_mints (id, account, amount, state, minted, reason,
			snapshot_supply, snapshot_total_value, snapshot_taken_at,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	supply, totalValue, takenAt := snapshotColumns(mint.Snapshot)
	_, err := r.db.ExecContext(ctx, query,
		mint.ID,
		string(mint.Account),
		mint.Amount.String(),
		string(mint.Status.State),
		bigIntColumn(mint.Status.Minted),
		mint.Status.Reason,
		supply,
		totalValue,
		takenAt,
		mint.CreatedAt,
		mint.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert pending mint: %w", err)
	}

	return nil
}

// GetByID retrieves a pending mint by its ID
func (r *pendingMintRepository) GetByID(ctx context.Context, id string) (*domain.PendingMint, error) {
	query := `
		SELECT id, account, amount, state, minted, reason,
			snapshot_supply, snapshot_total_value, snapshot_taken_at,
			created_at, updated_at
		FROM pending_mints
		WHERE id = $1
	`

	mint, err := scanPendingMint(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.Errorf(domain.KindValidation, "postgres.pending_mint",
				"pending mint %s not found", id)
		}
		return nil, fmt.Errorf("failed to get pending mint: %w", err)
	}

	return mint, nil
}

// Update replaces the stored record
func (r *pendingMintRepository) Update(ctx context.Context, mint *domain.PendingMint) error {
	query := `
		UPDATE pending_mints
		SET state = $2, minted = $3, reason = $4,
			snapshot_supply = $5, snapshot_total_value = $6, snapshot_taken_at = $7,
			updated_at = $8
		WHERE id = $1
	`

	supply, totalValue, takenAt := snapshotColumns(mint.Snapshot)
	result, err := r.db.ExecContext(ctx, query,
		mint.ID,
		string(mint.Status.State),
		bigIntColumn(mint.Status.Minted),
		mint.Status.Reason,
		supply,
		totalValue,
		takenAt,
		mint.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update pending mint: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return domain.Errorf(domain.KindValidation, "postgres.pending_mint",
			"pending mint %s not found", mint.ID)
	}

	return nil
}

// ListStale returns non-terminal records last updated before cutoff
func (r *pendingMintRepository) ListStale(ctx context.Context, cutoff time.Time) ([]*domain.PendingMint, error) {
	query := `
		SELECT id, account, amount, state, minted, reason,
			snapshot_supply, snapshot_total_value, snapshot_taken_at,
			created_at, updated_at
		FROM pending_mints
		WHERE state <> ALL($1) AND updated_at < $2
		ORDER BY updated_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(terminalStates), cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale mints: %w", err)
	}
	defer rows.Close()

	var mints []*domain.PendingMint
	for rows.Next() {
		mint, err := scanPendingMint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stale mint: %w", err)
		}
		mints = append(mints, mint)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stale mints: %w", err)
	}

	return mints, nil
}

// DeleteTerminalBefore removes terminal records created before cutoff
func (r *pendingMintRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		DELETE FROM pending_mints
		WHERE state = ANY($1) AND created_at < $2
	`

	result, err := r.db.ExecContext(ctx, query, pq.Array(terminalStates), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete terminal mints: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check delete result: %w", err)
	}

	return int(rows), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPendingMint(row rowScanner) (*domain.PendingMint, error) {
	var (
		mint       domain.PendingMint
		account    string
		amountStr  string
		state      string
		minted     sql.NullString
		supply     sql.NullString
		totalValue sql.NullString
		takenAt    sql.NullTime
	)

	err := row.Scan(
		&mint.ID,
		&account,
		&amountStr,
		&state,
		&minted,
		&mint.Status.Reason,
		&supply,
		&totalValue,
		&takenAt,
		&mint.CreatedAt,
		&mint.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	mint.Account = domain.Account(account)
	mint.Status.State = domain.MintState(state)

	if mint.Amount, err = parseBigInt(amountStr); err != nil {
		return nil, fmt.Errorf("failed to parse amount: %w", err)
	}
	if minted.Valid {
		if mint.Status.Minted, err = parseBigInt(minted.String); err != nil {
			return nil, fmt.Errorf("failed to parse minted amount: %w", err)
		}
	}
	if supply.Valid && totalValue.Valid && takenAt.Valid {
		snap := domain.Snapshot{TakenAt: takenAt.Time}
		if snap.Supply, err = parseBigInt(supply.String); err != nil {
			return nil, fmt.Errorf("failed to parse snapshot supply: %w", err)
		}
		if snap.TotalValue, err = parseBigInt(totalValue.String); err != nil {
			return nil, fmt.Errorf("failed to parse snapshot total value: %w", err)
		}
		mint.Snapshot = &snap
	}

	return &mint, nil
}

func snapshotColumns(s *domain.Snapshot) (supply, totalValue any, takenAt any) {
	if s == nil {
		return nil, nil, nil
	}
	return s.Supply.String(), s.TotalValue.String(), s.TakenAt
}

func bigIntColumn(v *big.Int) any {
	if v == nil {
		return nil
	}
	return v.String()
}

func parseBigInt(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}
