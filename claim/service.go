// Package claim implements the anonymous-job claim protocol: a dispatcher
// issues a one-time secret for a job created without a signed-in customer,
// and the customer redeems it exactly once to bind their identity.
package claim

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"roadflow/auth"
	"roadflow/db"
)

var (
	// ErrForbidden signals the caller may not issue tokens for this job.
	ErrForbidden = errors.New("claim: forbidden")
	// ErrAlreadyClaimed signals the job already has a bound customer, so no
	// further token may be issued.
	ErrAlreadyClaimed = errors.New("claim: job already claimed")
	// ErrAlreadyClaimedByOther signals another identity claimed the job first.
	ErrAlreadyClaimedByOther = errors.New("claim: job claimed by another customer")
	// ErrNoActiveToken signals the job carries no token to redeem.
	ErrNoActiveToken = errors.New("claim: no active token")
	// ErrTokenExpired signals the token's expiry has passed.
	ErrTokenExpired = errors.New("claim: token expired")
	// ErrInvalidToken signals the presented secret does not match the
	// stored digest.
	ErrInvalidToken = errors.New("claim: invalid token")
)

// DefaultTTL is the token validity window when the caller does not choose one.
const DefaultTTL = time.Hour

// secretBytes yields 256 bits of entropy per token.
const secretBytes = 32

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// IssuedToken carries the raw secret back to the issuer. This is the only
// time the secret exists outside the out-of-band delivery channel; only its
// digest is persisted.
type IssuedToken struct {
	JobID     string
	Secret    string
	ExpiresAt time.Time
}

// Service implements token issuance and redemption.
type Service struct {
	pool TxBeginner
	repo Repository
	now  func() time.Time
}

func NewService(pool TxBeginner, repo Repository) *Service {
	return &Service{
		pool: pool,
		repo: repo,
		now:  time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Issue creates a fresh claim token for an unclaimed job. The caller must
// dispatch for the job's provider (or hold the global dispatch role).
// Issuing replaces any earlier unclaimed token for the job.
func (s *Service) Issue(ctx context.Context, caller auth.CallerContext, jobID string, ttl time.Duration) (IssuedToken, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("claim: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	state, err := s.repo.JobForUpdate(ctx, tx, jobID)
	if err != nil {
		return IssuedToken{}, db.Conflict(err)
	}

	if !caller.CanDispatch(state.ProviderID) {
		return IssuedToken{}, ErrForbidden
	}
	if state.CustomerUID != nil {
		return IssuedToken{}, ErrAlreadyClaimed
	}

	secret, digest, err := newSecret()
	if err != nil {
		return IssuedToken{}, fmt.Errorf("claim: generate secret: %w", err)
	}
	expiresAt := s.now().Add(ttl).UTC()

	if err := s.repo.StoreToken(ctx, tx, jobID, digest, expiresAt); err != nil {
		return IssuedToken{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return IssuedToken{}, db.Conflict(fmt.Errorf("claim: commit issue: %w", err))
	}

	return IssuedToken{JobID: jobID, Secret: secret, ExpiresAt: expiresAt}, nil
}

// Claim binds a customer identity to the job in exchange for the raw
// secret. The whole check-and-bind runs under the job's row lock, so two
// racing claims serialize: the first wins, the second sees the bound
// identity. Replaying a successful claim with the same identity succeeds.
func (s *Service) Claim(ctx context.Context, jobID, rawSecret, customerUID string) error {
	if customerUID == "" {
		return fmt.Errorf("claim: customer identity required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("claim: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	state, err := s.repo.JobForUpdate(ctx, tx, jobID)
	if err != nil {
		return db.Conflict(err)
	}

	if state.CustomerUID != nil {
		if *state.CustomerUID == customerUID {
			return nil
		}
		return ErrAlreadyClaimedByOther
	}
	if state.TokenDigest == nil || state.TokenExpiresAt == nil {
		return ErrNoActiveToken
	}
	if s.now().After(*state.TokenExpiresAt) {
		return ErrTokenExpired
	}
	if !digestMatches(rawSecret, *state.TokenDigest) {
		return ErrInvalidToken
	}

	if err := s.repo.BindCustomer(ctx, tx, jobID, customerUID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return db.Conflict(fmt.Errorf("claim: commit: %w", err))
	}

	return nil
}

// PublicMessage collapses every token-verification failure into one
// user-facing string so responses give no oracle for guessing tokens.
// Non-token errors keep their own message.
func PublicMessage(err error) string {
	switch {
	case errors.Is(err, ErrNoActiveToken), errors.Is(err, ErrTokenExpired), errors.Is(err, ErrInvalidToken):
		return "invalid or expired claim code"
	case errors.Is(err, ErrAlreadyClaimedByOther):
		return "this job is already linked to another account"
	default:
		return "claim failed"
	}
}

func newSecret() (secret, digest string, err error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	secret = base64.RawURLEncoding.EncodeToString(buf)
	return secret, hashSecret(secret), nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func digestMatches(rawSecret, storedDigest string) bool {
	computed := hashSecret(rawSecret)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedDigest)) == 1
}
