package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/basketfi/fund-backend/internal/domain"
)

// rebalanceLogRepository implements domain.RebalanceLogRepository
type rebalanceLogRepository struct {
	db *DB
}

// NewRebalanceLogRepository creates a new rebalance log repository
func NewRebalanceLogRepository(db *DB) domain.RebalanceLogRepository {
	return &rebalanceLogRepository{db: db}
}

// Append stores one record
func (r *rebalanceLogRepository) Append(ctx context.Context, record *domain.RebalanceRecord) error {
	query := `
		INSERT INTO rebalance_log (ts, action, asset, amount, success, details)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		record.Timestamp,
		string(record.Action.Kind),
		record.Action.Asset,
		bigIntColumn(record.Action.Amount),
		record.Success,
		record.Details,
	)
	if err != nil {
		return fmt.Errorf("failed to insert rebalance record: %w", err)
	}

	return nil
}

// ListRecent returns the most recent records, newest first
func (r *rebalanceLogRepository) ListRecent(ctx context.Context, limit int) ([]*domain.RebalanceRecord, error) {
	query := `
		SELECT ts, action, asset, amount, success, details
		FROM rebalance_log
		ORDER BY ts DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list rebalance records: %w", err)
	}
	defer rows.Close()

	var records []*domain.RebalanceRecord
	for rows.Next() {
		var (
			rec    domain.RebalanceRecord
			action string
			amount sql.NullString
		)
		err := rows.Scan(&rec.Timestamp, &action, &rec.Action.Asset, &amount, &rec.Success, &rec.Details)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rebalance record: %w", err)
		}
		rec.Action.Kind = domain.RebalanceActionKind(action)
		if amount.Valid {
			if rec.Action.Amount, err = parseBigInt(amount.String); err != nil {
				return nil, fmt.Errorf("failed to parse rebalance amount: %w", err)
			}
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rebalance records: %w", err)
	}

	return records, nil
}
