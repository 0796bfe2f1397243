package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"pulse-rewards/internal/domain"
	"pulse-rewards/internal/storage"
)

// ClaimReceiptStore implements storage.ClaimReceiptStore using PostgreSQL.
type ClaimReceiptStore struct {
	pool *Pool
}

// NewClaimReceiptStore creates a new ClaimReceiptStore.
func NewClaimReceiptStore(pool *Pool) *ClaimReceiptStore {
	return &ClaimReceiptStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ClaimReceiptStore = (*ClaimReceiptStore)(nil)

const receiptColumns = `
	receipt_id, respondent, poll_id, amount_units::text, decimals, confirmation, claimed_at
`

// Insert adds a receipt. Returns ErrDuplicateKey if (respondent, poll_id) exists.
func (s *ClaimReceiptStore) Insert(ctx context.Context, r *domain.ClaimReceipt) (err error) {
	if r == nil || r.ReceiptID == "" || r.Respondent == "" || r.PollID == "" {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { observe("receipt_insert", start, err) }()

	query := `
		INSERT INTO claim_receipts (
			receipt_id, respondent, poll_id, amount_units, decimals, confirmation, claimed_at
		) VALUES ($1, $2, $3, $4::text::numeric, $5, $6, $7)
	`

	_, err = s.pool.Exec(ctx, query,
		r.ReceiptID,
		string(r.Respondent),
		r.PollID,
		r.Amount.UnitsString(),
		int16(r.Amount.Decimals()),
		r.Confirmation,
		r.ClaimedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert claim receipt: %w", err)
	}
	return nil
}

// Get retrieves the receipt of a (respondent, poll). Returns ErrNotFound if not exists.
func (s *ClaimReceiptStore) Get(ctx context.Context, respondent domain.Principal, pollID string) (*domain.ClaimReceipt, error) {
	query := `SELECT ` + receiptColumns + `
		FROM claim_receipts
		WHERE respondent = $1 AND poll_id = $2
	`

	r, err := scanReceipt(s.pool.QueryRow(ctx, query, string(respondent), pollID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get claim receipt: %w", err)
	}
	return r, nil
}

// ListByRespondent retrieves all receipts of a respondent, ordered by claimed_at ASC.
func (s *ClaimReceiptStore) ListByRespondent(ctx context.Context, respondent domain.Principal) ([]*domain.ClaimReceipt, error) {
	query := `SELECT ` + receiptColumns + `
		FROM claim_receipts
		WHERE respondent = $1
		ORDER BY claimed_at ASC, poll_id ASC
	`

	rows, err := s.pool.Query(ctx, query, string(respondent))
	if err != nil {
		return nil, fmt.Errorf("list claim receipts: %w", err)
	}
	defer rows.Close()

	var result []*domain.ClaimReceipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claim receipt: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claim receipts: %w", err)
	}
	return result, nil
}

func scanReceipt(row pgx.Row) (*domain.ClaimReceipt, error) {
	var (
		r          domain.ClaimReceipt
		respondent string
		units      string
		decimals   int16
	)
	err := row.Scan(
		&r.ReceiptID,
		&respondent,
		&r.PollID,
		&units,
		&decimals,
		&r.Confirmation,
		&r.ClaimedAt,
	)
	if err != nil {
		return nil, err
	}
	if r.Amount, err = parseAmount(units, decimals); err != nil {
		return nil, err
	}
	r.Respondent = domain.Principal(respondent)
	return &r, nil
}
