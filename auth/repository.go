package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrMemberNotFound signals that the member does not exist.
	ErrMemberNotFound = errors.New("auth: member not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = errors.New("auth: email already exists")
)

// Repository handles data access for authentication.
type Repository interface {
	CreateMember(ctx context.Context, params CreateMemberParams) (Member, error)
	GetMemberByEmail(ctx context.Context, email string) (Member, error)
	GetMemberByID(ctx context.Context, id string) (Member, error)
}

type CreateMemberParams struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const memberColumns = `id::text, email, full_name, password_hash, role, created_at, updated_at`

func (r *PGRepository) CreateMember(ctx context.Context, params CreateMemberParams) (Member, error) {
	const insertSQL = `
		INSERT INTO members (id, email, full_name, password_hash, role)
		VALUES ($1::uuid, lower($2), $3, $4, $5)
		RETURNING ` + memberColumns

	member, err := scanMember(r.pool.QueryRow(ctx, insertSQL, params.ID, params.Email, params.FullName, params.PasswordHash, params.Role))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Member{}, ErrDuplicateEmail
		}
		return Member{}, fmt.Errorf("auth: create member: %w", err)
	}
	return member, nil
}

func (r *PGRepository) GetMemberByEmail(ctx context.Context, email string) (Member, error) {
	member, err := scanMember(r.pool.QueryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE email = lower($1)`, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Member{}, ErrMemberNotFound
		}
		return Member{}, fmt.Errorf("auth: get member by email: %w", err)
	}
	return member, nil
}

func (r *PGRepository) GetMemberByID(ctx context.Context, id string) (Member, error) {
	key, err := uuid.Parse(id)
	if err != nil {
		return Member{}, ErrMemberNotFound
	}
	member, err := scanMember(r.pool.QueryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE id = $1`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Member{}, ErrMemberNotFound
		}
		return Member{}, fmt.Errorf("auth: get member by id: %w", err)
	}
	return member, nil
}

func scanMember(row pgx.Row) (Member, error) {
	var m Member
	if err := row.Scan(&m.ID, &m.Email, &m.FullName, &m.PasswordHash, &m.Role, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return Member{}, err
	}
	return m, nil
}

// MemoryRepository keeps members in process for the memory store driver.
type MemoryRepository struct {
	mu      sync.RWMutex
	byEmail map[string]Member
	byID    map[string]Member
	now     func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byEmail: make(map[string]Member),
		byID:    make(map[string]Member),
		now:     time.Now,
	}
}

func (r *MemoryRepository) CreateMember(ctx context.Context, params CreateMemberParams) (Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	email := strings.ToLower(params.Email)
	if _, exists := r.byEmail[email]; exists {
		return Member{}, ErrDuplicateEmail
	}
	now := r.now().UTC()
	m := Member{
		ID:           params.ID,
		Email:        email,
		FullName:     params.FullName,
		PasswordHash: params.PasswordHash,
		Role:         params.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.byEmail[email] = m
	r.byID[m.ID] = m
	return m, nil
}

func (r *MemoryRepository) GetMemberByEmail(ctx context.Context, email string) (Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byEmail[strings.ToLower(email)]
	if !ok {
		return Member{}, ErrMemberNotFound
	}
	return m, nil
}

func (r *MemoryRepository) GetMemberByID(ctx context.Context, id string) (Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[id]
	if !ok {
		return Member{}, ErrMemberNotFound
	}
	return m, nil
}
