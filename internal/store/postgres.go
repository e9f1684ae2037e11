package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	const insertUser = `
		INSERT INTO users (id, email, name, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, email, name, password_hash, created_at, updated_at
	`
	var created User
	err := s.db.QueryRowContext(ctx, insertUser, user.ID, user.Email, user.Name, user.PasswordHash).
		Scan(&created.ID, &created.Email, &created.Name, &created.PasswordHash, &created.CreatedAt, &created.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrDuplicateEmail
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const findUser = `
		SELECT id, email, name, password_hash, created_at, updated_at
		FROM users
		WHERE LOWER(email) = LOWER($1)
	`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, email).
		Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user by email: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const findUser = `
		SELECT id, email, name, password_hash, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, id).
		Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

// DeleteUser removes the account. Cases go with it through the foreign
// key cascade.
func (s *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateCase persists the case together with its analysis artifact in a
// single statement, so a case row never exists without its analysis.
func (s *PostgresStore) CreateCase(ctx context.Context, c Case) (Case, error) {
	const insertCase = `
		INSERT INTO cases (id, user_id, title, case_text, dispute_type, ai_response, confidence_score, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, user_id, title, case_text, dispute_type, ai_response, confidence_score, status, created_at, updated_at
	`
	var created Case
	err := s.db.QueryRowContext(ctx, insertCase,
		c.ID, c.UserID, c.Title, c.CaseText, c.DisputeType, c.Artifact, c.ConfidenceScore, c.Status,
	).Scan(
		&created.ID, &created.UserID, &created.Title, &created.CaseText, &created.DisputeType,
		&created.Artifact, &created.ConfidenceScore, &created.Status, &created.CreatedAt, &created.UpdatedAt,
	)
	if err != nil {
		return Case{}, fmt.Errorf("insert case: %w", err)
	}
	return created, nil
}

// GetCase is owner-scoped: a case belonging to another user is reported
// as missing, not forbidden.
func (s *PostgresStore) GetCase(ctx context.Context, id, ownerID string) (Case, error) {
	const findCase = `
		SELECT id, user_id, title, case_text, dispute_type, ai_response, confidence_score, status, created_at, updated_at
		FROM cases
		WHERE id = $1 AND user_id = $2 AND status <> $3
	`
	var c Case
	err := s.db.QueryRowContext(ctx, findCase, id, ownerID, CaseStatusDeleted).Scan(
		&c.ID, &c.UserID, &c.Title, &c.CaseText, &c.DisputeType,
		&c.Artifact, &c.ConfidenceScore, &c.Status, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Case{}, ErrNotFound
	}
	if err != nil {
		return Case{}, fmt.Errorf("lookup case: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListCases(ctx context.Context, ownerID string, limit, offset int) ([]CaseSummary, error) {
	const listCases = `
		SELECT id, title, dispute_type, confidence_score, status, created_at
		FROM cases
		WHERE user_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := s.db.QueryContext(ctx, listCases, ownerID, CaseStatusActive, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	summaries := []CaseSummary{}
	for rows.Next() {
		var item CaseSummary
		if err := rows.Scan(&item.ID, &item.Title, &item.DisputeType, &item.ConfidenceScore, &item.Status, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		summaries = append(summaries, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	return summaries, nil
}

// SetCaseStatus is the only mutation a case supports after creation.
func (s *PostgresStore) SetCaseStatus(ctx context.Context, id, ownerID, status string) error {
	const updateStatus = `
		UPDATE cases
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND status <> $4
	`
	result, err := s.db.ExecContext(ctx, updateStatus, id, ownerID, status, CaseStatusDeleted)
	if err != nil {
		return fmt.Errorf("update case status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update case status: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UserStats(ctx context.Context, ownerID string) (UserStats, error) {
	const statsQuery = `
		SELECT dispute_type, COUNT(*), AVG(confidence_score)
		FROM cases
		WHERE user_id = $1 AND status = $2
		GROUP BY dispute_type
	`
	rows, err := s.db.QueryContext(ctx, statsQuery, ownerID, CaseStatusActive)
	if err != nil {
		return UserStats{}, fmt.Errorf("user stats: %w", err)
	}
	defer rows.Close()

	stats := UserStats{CasesByType: map[string]int{}}
	weighted := 0.0
	for rows.Next() {
		var disputeType string
		var count int
		var avg sql.NullFloat64
		if err := rows.Scan(&disputeType, &count, &avg); err != nil {
			return UserStats{}, fmt.Errorf("scan stats: %w", err)
		}
		stats.CasesByType[disputeType] = count
		stats.TotalCases += count
		if avg.Valid {
			weighted += avg.Float64 * float64(count)
		}
	}
	if err := rows.Err(); err != nil {
		return UserStats{}, fmt.Errorf("user stats: %w", err)
	}
	if stats.TotalCases > 0 {
		stats.AverageConfidence = weighted / float64(stats.TotalCases)
	}
	return stats, nil
}
