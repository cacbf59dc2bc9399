package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jberon/kiln/internal/models"
)

// Outcome repository errors.
var (
	ErrOutcomeNotFound = errors.New("outcome not found")
)

// OutcomeRepository handles generation outcome persistence. The archive
// is append-only except for retention trims.
type OutcomeRepository struct {
	db *DB
}

// NewOutcomeRepository creates a new OutcomeRepository.
func NewOutcomeRepository(db *DB) *OutcomeRepository {
	return &OutcomeRepository{db: db}
}

// Save appends one outcome to the archive. A missing ID or timestamp is
// filled in.
func (r *OutcomeRepository) Save(ctx context.Context, o *models.GenerationOutcome) error {
	if err := o.Validate(); err != nil {
		return err
	}
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outcomes (
			id, model, task_type, tier,
			quality_score, duration_ms, tokens_used,
			tests_passed, user_accepted, error_count, refinement_rounds,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.ID,
		o.Model,
		string(o.TaskType),
		string(o.Tier),
		o.QualityScore,
		o.Duration.Milliseconds(),
		o.TokensUsed,
		nullableBool(o.TestsPassed),
		nullableBool(o.UserAccepted),
		o.ErrorCount,
		o.RefinementRounds,
		o.Timestamp.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert outcome: %w", err)
	}

	return nil
}

// Get retrieves an outcome by ID.
func (r *OutcomeRepository) Get(ctx context.Context, id string) (*models.GenerationOutcome, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, model, task_type, tier,
			quality_score, duration_ms, tokens_used,
			tests_passed, user_accepted, error_count, refinement_rounds,
			created_at
		FROM outcomes WHERE id = ?
	`, id)

	return r.scanOutcome(row)
}

// List retrieves outcomes newest first. An empty model or task type
// matches everything; limit <= 0 means no limit.
func (r *OutcomeRepository) List(ctx context.Context, model string, taskType models.TaskType, limit int) ([]*models.GenerationOutcome, error) {
	query := `
		SELECT id, model, task_type, tier,
			quality_score, duration_ms, tokens_used,
			tests_passed, user_accepted, error_count, refinement_rounds,
			created_at
		FROM outcomes
	`

	var (
		conds []string
		args  []any
	)
	if model != "" {
		conds = append(conds, "model = ?")
		args = append(args, model)
	}
	if taskType != "" {
		conds = append(conds, "task_type = ?")
		args = append(args, string(taskType))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	// rowid breaks ties between rows stamped within the same second
	query += " ORDER BY created_at DESC, rowid DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := make([]*models.GenerationOutcome, 0)
	for rows.Next() {
		o, err := r.scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}

	return outcomes, rows.Err()
}

// ListRecent retrieves the newest outcomes across all models and tasks.
func (r *OutcomeRepository) ListRecent(ctx context.Context, limit int) ([]*models.GenerationOutcome, error) {
	return r.List(ctx, "", "", limit)
}

// TrimOlderThan deletes outcomes finished before the cutoff and returns
// how many rows went.
func (r *OutcomeRepository) TrimOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM outcomes WHERE created_at < ?",
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("failed to trim outcomes: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count trimmed outcomes: %w", err)
	}
	if removed > 0 {
		r.db.logger.Info().
			Int64("removed", removed).
			Time("cutoff", cutoff).
			Msg("trimmed outcome archive")
	}

	return removed, nil
}

func (r *OutcomeRepository) scanOutcome(scanner interface{ Scan(...any) error }) (*models.GenerationOutcome, error) {
	var (
		id               string
		model            string
		taskType         string
		tier             string
		qualityScore     int
		durationMs       int64
		tokensUsed       int64
		testsPassed      sql.NullInt64
		userAccepted     sql.NullInt64
		errorCount       int
		refinementRounds int
		createdAt        string
	)

	if err := scanner.Scan(
		&id,
		&model,
		&taskType,
		&tier,
		&qualityScore,
		&durationMs,
		&tokensUsed,
		&testsPassed,
		&userAccepted,
		&errorCount,
		&refinementRounds,
		&createdAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOutcomeNotFound
		}
		return nil, fmt.Errorf("failed to scan outcome: %w", err)
	}

	o := &models.GenerationOutcome{
		ID:               id,
		Model:            model,
		TaskType:         models.TaskType(taskType),
		Tier:             models.ModelTier(tier),
		QualityScore:     qualityScore,
		Duration:         time.Duration(durationMs) * time.Millisecond,
		TokensUsed:       tokensUsed,
		TestsPassed:      boolPtrFromNull(testsPassed),
		UserAccepted:     boolPtrFromNull(userAccepted),
		ErrorCount:       errorCount,
		RefinementRounds: refinementRounds,
	}

	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		o.Timestamp = t
	}

	return o, nil
}

func nullableBool(value *bool) *int {
	if value == nil {
		return nil
	}
	v := 0
	if *value {
		v = 1
	}
	return &v
}

func boolPtrFromNull(value sql.NullInt64) *bool {
	if !value.Valid {
		return nil
	}
	v := value.Int64 == 1
	return &v
}
