package clickhouse

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"pulse-rewards/internal/domain"
	"pulse-rewards/internal/storage"
	"pulse-rewards/internal/token"
)

// PoolAuditStore implements storage.PoolAuditStore using ClickHouse.
// Amounts are stored as UInt256 smallest units.
type PoolAuditStore struct {
	conn *Conn
}

// NewPoolAuditStore creates a new PoolAuditStore.
func NewPoolAuditStore(conn *Conn) *PoolAuditStore {
	return &PoolAuditStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PoolAuditStore = (*PoolAuditStore)(nil)

// InsertSnapshot appends a refresh snapshot.
func (s *PoolAuditStore) InsertSnapshot(ctx context.Context, snap *domain.PoolSnapshot) error {
	if snap == nil || snap.PollID == "" {
		return storage.ErrInvalidInput
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO pool_snapshots (
			poll_id, fetched_at, decimals,
			total_fund, remaining_fund, reward_per_response,
			current_responses, contributor_count, invariant_ok, violation
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	var ok uint8
	if snap.InvariantOK {
		ok = 1
	}
	err = batch.Append(
		snap.PollID,
		uint64(snap.FetchedAt),
		snap.TotalFund.Decimals(),
		snap.TotalFund.Big(),
		snap.RemainingFund.Big(),
		snap.RewardPerResponse.Big(),
		snap.CurrentResponses,
		uint32(snap.ContributorCount),
		ok,
		snap.Violation,
	)
	if err != nil {
		return fmt.Errorf("append snapshot: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

const snapshotColumns = `
	poll_id, fetched_at, decimals,
	total_fund, remaining_fund, reward_per_response,
	current_responses, contributor_count, invariant_ok, violation
`

// GetByPoll retrieves snapshots of a poll, ordered by fetched_at ASC.
func (s *PoolAuditStore) GetByPoll(ctx context.Context, pollID string) ([]*domain.PoolSnapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM pool_snapshots
		WHERE poll_id = ?
		ORDER BY fetched_at ASC
	`

	rows, err := s.conn.Query(ctx, query, pollID)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// GetViolations retrieves failing snapshots within [start, end] (inclusive).
func (s *PoolAuditStore) GetViolations(ctx context.Context, start, end int64) ([]*domain.PoolSnapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM pool_snapshots
		WHERE invariant_ok = 0 AND fetched_at >= ? AND fetched_at <= ?
		ORDER BY fetched_at ASC, poll_id ASC
	`

	rows, err := s.conn.Query(ctx, query, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query violations: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

func scanSnapshots(rows driver.Rows) ([]*domain.PoolSnapshot, error) {
	var result []*domain.PoolSnapshot
	for rows.Next() {
		var (
			pollID                   string
			fetchedAt                uint64
			decimals                 uint8
			total, remaining, reward big.Int
			responses                uint64
			contributors             uint32
			ok                       uint8
			violation                string
		)
		err := rows.Scan(
			&pollID, &fetchedAt, &decimals,
			&total, &remaining, &reward,
			&responses, &contributors, &ok, &violation,
		)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}

		snap := &domain.PoolSnapshot{
			PollID:           pollID,
			CurrentResponses: responses,
			ContributorCount: int(contributors),
			InvariantOK:      ok == 1,
			Violation:        violation,
			FetchedAt:        int64(fetchedAt),
		}
		if snap.TotalFund, err = token.FromBig(&total, decimals); err != nil {
			return nil, err
		}
		if snap.RemainingFund, err = token.FromBig(&remaining, decimals); err != nil {
			return nil, err
		}
		if snap.RewardPerResponse, err = token.FromBig(&reward, decimals); err != nil {
			return nil, err
		}
		result = append(result, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return result, nil
}
