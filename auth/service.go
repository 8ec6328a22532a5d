package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials signals wrong email or password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = errors.New("auth: password must be at least 8 characters")
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrInvalidInput = errors.New("auth: invalid input")
	// ErrRoleNotPermitted signals a manager role requested without a manager
	// vouching for it.
	ErrRoleNotPermitted = errors.New("auth: only managers may grant a manager role")
)

// Service handles authentication business logic.
type Service struct {
	repo        Repository
	jwtSecret   []byte
	tokenTTL    time.Duration
	now         func() time.Time
	idGenerator func() string
}

// LoginResult bundles the token and member returned after a successful login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Member    Member
}

func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:        repo,
		jwtSecret:   []byte(jwtSecret),
		tokenTTL:    24 * time.Hour,
		now:         time.Now,
		idGenerator: func() string { return uuid.NewString() },
	}
}

func (s *Service) WithTokenTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.tokenTTL = ttl
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Register creates a new member account. Manager roles are only granted when
// req.InvitedBy is itself a manager role.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (Member, error) {
	return s.register(ctx, req, true)
}

// Provision creates an account with any role. It backs operator bootstrap,
// never a public endpoint.
func (s *Service) Provision(ctx context.Context, req RegisterRequest) (Member, error) {
	return s.register(ctx, req, false)
}

func (s *Service) register(ctx context.Context, req RegisterRequest, checkInvite bool) (Member, error) {
	if len(req.Password) < 8 {
		return Member{}, ErrWeakPassword
	}
	email := strings.TrimSpace(req.Email)
	fullName := strings.TrimSpace(req.FullName)
	if email == "" || fullName == "" {
		return Member{}, fmt.Errorf("%w: email and full name are required", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return Member{}, fmt.Errorf("%w: malformed email %q", ErrInvalidInput, email)
	}

	role := Role(strings.TrimSpace(string(req.Role)))
	if role == "" {
		role = RoleTeleCaller
	}
	if !role.Valid() {
		return Member{}, fmt.Errorf("%w: invalid role %q", ErrInvalidInput, role)
	}
	if checkInvite && role.CanAssign() && !req.InvitedBy.CanAssign() {
		return Member{}, fmt.Errorf("%w: %s", ErrRoleNotPermitted, role)
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return Member{}, fmt.Errorf("auth: hash password: %w", err)
	}

	return s.repo.CreateMember(ctx, CreateMemberParams{
		ID:           s.idGenerator(),
		Email:        email,
		FullName:     fullName,
		PasswordHash: string(passwordHash),
		Role:         role,
	})
}

// Login authenticates a member and returns a signed token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	member, err := s.repo.GetMemberByEmail(ctx, strings.TrimSpace(req.Email))
	if err != nil {
		if errors.Is(err, ErrMemberNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(member.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, expiresAt, err := s.generateToken(member.ID, member.Role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}
	return LoginResult{Token: token, ExpiresAt: expiresAt, Member: member}, nil
}

func (s *Service) GetMember(ctx context.Context, id string) (Member, error) {
	return s.repo.GetMemberByID(ctx, id)
}

// VerifyToken validates a token and returns the member id and role.
func (s *Service) VerifyToken(tokenString string) (string, Role, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", ErrInvalidToken
	}
	memberID, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	if memberID == "" || !Role(role).Valid() {
		return "", "", ErrInvalidToken
	}
	return memberID, Role(role), nil
}

func (s *Service) generateToken(memberID string, role Role) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.tokenTTL)
	claims := jwt.MapClaims{
		"sub":  memberID,
		"role": string(role),
		"exp":  expiresAt.Unix(),
		"iat":  now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}
