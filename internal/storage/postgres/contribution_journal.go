package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"pulse-rewards/internal/domain"
	"pulse-rewards/internal/storage"
)

// ContributionJournal implements storage.ContributionJournal using PostgreSQL.
type ContributionJournal struct {
	pool *Pool
}

// NewContributionJournal creates a new ContributionJournal.
func NewContributionJournal(pool *Pool) *ContributionJournal {
	return &ContributionJournal{pool: pool}
}

// Compile-time interface check.
var _ storage.ContributionJournal = (*ContributionJournal)(nil)

const journalColumns = `
	attempt_id, seq, poll_id, contributor, amount_units::text, decimals,
	state, reason, detail, attempt, occurred_at
`

// Append adds a transition. Returns ErrDuplicateKey if (attempt_id, seq) exists.
func (j *ContributionJournal) Append(ctx context.Context, e *domain.ContributionEvent) (err error) {
	if e == nil || e.AttemptID == "" || e.PollID == "" || e.State == "" {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { observe("journal_append", start, err) }()

	query := `
		INSERT INTO contribution_journal (
			attempt_id, seq, poll_id, contributor, amount_units, decimals,
			state, reason, detail, attempt, occurred_at
		) VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7, $8, $9, $10, $11)
	`

	_, err = j.pool.Exec(ctx, query,
		e.AttemptID,
		e.Seq,
		e.PollID,
		string(e.Contributor),
		e.Amount.UnitsString(),
		int16(e.Amount.Decimals()),
		string(e.State),
		e.Reason,
		e.Detail,
		e.Attempt,
		e.OccurredAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert journal event: %w", err)
	}
	return nil
}

// GetByAttempt retrieves the transitions of one attempt, ordered by seq ASC.
func (j *ContributionJournal) GetByAttempt(ctx context.Context, attemptID string) ([]*domain.ContributionEvent, error) {
	query := `SELECT ` + journalColumns + `
		FROM contribution_journal
		WHERE attempt_id = $1
		ORDER BY seq ASC
	`

	rows, err := j.pool.Query(ctx, query, attemptID)
	if err != nil {
		return nil, fmt.Errorf("get journal by attempt: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetByPoll retrieves all transitions for a poll, ordered by occurred_at, attempt_id, seq.
func (j *ContributionJournal) GetByPoll(ctx context.Context, pollID string) ([]*domain.ContributionEvent, error) {
	query := `SELECT ` + journalColumns + `
		FROM contribution_journal
		WHERE poll_id = $1
		ORDER BY occurred_at ASC, attempt_id ASC, seq ASC
	`

	rows, err := j.pool.Query(ctx, query, pollID)
	if err != nil {
		return nil, fmt.Errorf("get journal by poll: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListUnfinished returns the latest transition of every non-terminal attempt.
func (j *ContributionJournal) ListUnfinished(ctx context.Context) ([]*domain.ContributionEvent, error) {
	query := `
		SELECT ` + journalColumns + `
		FROM (
			SELECT DISTINCT ON (attempt_id) *
			FROM contribution_journal
			ORDER BY attempt_id, seq DESC
		) latest
		WHERE state NOT IN ($1, $2)
		ORDER BY occurred_at ASC, attempt_id ASC
	`

	rows, err := j.pool.Query(ctx, query,
		string(domain.ContributionSucceeded),
		string(domain.ContributionFailed),
	)
	if err != nil {
		return nil, fmt.Errorf("list unfinished attempts: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]*domain.ContributionEvent, error) {
	var result []*domain.ContributionEvent
	for rows.Next() {
		var (
			e           domain.ContributionEvent
			contributor string
			units       string
			decimals    int16
			state       string
		)
		err := rows.Scan(
			&e.AttemptID,
			&e.Seq,
			&e.PollID,
			&contributor,
			&units,
			&decimals,
			&state,
			&e.Reason,
			&e.Detail,
			&e.Attempt,
			&e.OccurredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan journal event: %w", err)
		}
		if e.Amount, err = parseAmount(units, decimals); err != nil {
			return nil, err
		}
		e.Contributor = domain.Principal(contributor)
		e.State = domain.ContributionState(state)
		result = append(result, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal events: %w", err)
	}
	return result, nil
}
