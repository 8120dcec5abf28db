package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/probid/tender-radar/internal/models"
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrInvalidCreds = errors.New("invalid credentials")

	jwtSecretOnce    sync.Once
	jwtSecretRuntime []byte
	jwtSecretErr     error
)

func jwtSecretFromEnv() ([]byte, error) {
	jwtSecretOnce.Do(func() {
		secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
		if secret != "" {
			jwtSecretRuntime = []byte(secret)
			return
		}

		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			jwtSecretErr = fmt.Errorf("failed to generate JWT fallback secret: %w", err)
			return
		}

		jwtSecretRuntime = []byte(base64.RawURLEncoding.EncodeToString(buf))
		log.Print("JWT_SECRET is not set; using ephemeral in-memory fallback secret")
	})

	if jwtSecretErr != nil {
		return nil, jwtSecretErr
	}
	if len(jwtSecretRuntime) == 0 {
		return nil, errors.New("JWT secret unavailable")
	}

	return jwtSecretRuntime, nil
}

type Service struct {
	db *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

const tokenTTL = 24 * time.Hour

// Signup creates the user and returns a session token. The users table
// enforces email uniqueness; a unique violation maps to ErrUserExists
// rather than being pre-checked, so concurrent signups cannot race past
// each other.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (*AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var user User
	err = s.db.QueryRow(ctx, `
		INSERT INTO users (email, password_hash)
		VALUES ($1, $2)
		RETURNING id, email, created_at
	`, email, string(hash)).Scan(&user.ID, &user.Email, &user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return s.respondWithToken(user)
}

// Login verifies credentials. Unknown email and wrong password both
// return ErrInvalidCreds; callers get no signal which one it was.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var user User
	err := s.db.QueryRow(ctx,
		"SELECT id, email, password_hash, created_at FROM users WHERE email = $1", email,
	).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvalidCreds
	}
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		return nil, ErrInvalidCreds
	}

	user.PasswordHash = ""
	return s.respondWithToken(user)
}

func (s *Service) respondWithToken(user User) (*AuthResponse, error) {
	secret, err := jwtSecretFromEnv()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": user.ID.String(),
		"iat": now.Unix(),
		"exp": now.Add(tokenTTL).Unix(),
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	return &AuthResponse{Token: signed, User: user}, nil
}

// Watchlist

func (s *Service) WatchOpportunity(ctx context.Context, userID uuid.UUID, oppID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO watched_opportunities (user_id, opportunity_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, opportunity_id) DO NOTHING
	`, userID, oppID)
	return err
}

func (s *Service) UnwatchOpportunity(ctx context.Context, userID uuid.UUID, oppID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM watched_opportunities
		WHERE user_id = $1 AND opportunity_id = $2
	`, userID, oppID)
	return err
}

func (s *Service) WatchedOpportunities(ctx context.Context, userID uuid.UUID) ([]models.Opportunity, error) {
	rows, err := s.db.Query(ctx, `
		SELECT o.id, o.fingerprint, o.profile, o.title, o.description, o.source,
		       o.source_url, o.buyer_name, o.estimated_value, o.profit_margin_pct,
		       o.closing_date, o.status, o.score, o.profit_probability,
		       o.win_probability, o.competition_level, o.follow_up, o.signals,
		       o.first_seen, o.last_seen, o.notified_at
		FROM opportunities o
		JOIN watched_opportunities w ON o.id = w.opportunity_id
		WHERE w.user_id = $1
		ORDER BY w.watched_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var opps []models.Opportunity
	for rows.Next() {
		var o models.Opportunity
		err := rows.Scan(
			&o.ID, &o.Fingerprint, &o.Profile, &o.Title, &o.Description,
			&o.Source, &o.SourceURL, &o.BuyerName, &o.EstimatedValue,
			&o.ProfitMarginPct, &o.ClosingDate, &o.Status, &o.Score,
			&o.ProfitProb, &o.WinProb, &o.CompetitionLevel, &o.FollowUp,
			&o.Signals, &o.FirstSeen, &o.LastSeen, &o.NotifiedAt,
		)
		if err != nil {
			return nil, err
		}
		opps = append(opps, o)
	}
	return opps, rows.Err()
}
