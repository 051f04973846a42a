// Package verification issues and checks the one-time codes that bind a
// send-verification request to a later link-account request.
package verification

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xx-3-xx/BankWebsite/services/onboarding/internal/provider"
)

const (
	CodeLength         = 6
	DefaultTTL         = 5 * time.Minute
	DefaultMaxAttempts = 5
)

var (
	ErrNotFound        = errors.New("verification challenge not found")
	ErrCodeMismatch    = errors.New("verification code mismatch")
	ErrTooManyAttempts = errors.New("too many verification attempts")
)

type Challenge struct {
	AccountNumber string
	BankName      string
	CodeHash      string
	ExpiresAt     time.Time
}

// Store keeps at most one outstanding challenge per account and bank.
// Save replaces any previous challenge for the pair. Consume deletes the
// challenge on success, reporting how long it had left, and deletes it
// once the attempt budget is spent. Restore puts a consumed challenge
// back unless a newer one has been saved since.
type Store interface {
	Save(ctx context.Context, ch Challenge, ttl time.Duration) error
	Consume(ctx context.Context, accountNumber, bankName, codeHash string, now time.Time) (time.Duration, error)
	Restore(ctx context.Context, ch Challenge, ttl time.Duration) error
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Issued struct {
	Code      string
	ExpiresAt time.Time
}

// Receipt records a consumed challenge so it can be restored when the
// step it guarded fails.
type Receipt struct {
	Challenge Challenge
	Remaining time.Duration
}

type Service struct {
	store Store
	ttl   time.Duration
	clock Clock
}

func NewService(store Store, ttl time.Duration, clock Clock) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &Service{store: store, ttl: ttl, clock: clock}
}

func (s *Service) TTL() time.Duration { return s.ttl }

// Issue creates a new code for the pair and hands it to deliver. The
// challenge is saved only after deliver succeeds, so a failed delivery
// leaves the previous code valid. Only the hash is stored.
func (s *Service) Issue(ctx context.Context, accountNumber, bankName string, deliver func(context.Context, Issued) error) (Issued, error) {
	code, err := provider.RandomDigits(CodeLength, false)
	if err != nil {
		return Issued{}, err
	}
	issued := Issued{Code: code, ExpiresAt: s.clock.Now().Add(s.ttl)}
	if deliver != nil {
		if err := deliver(ctx, issued); err != nil {
			return Issued{}, err
		}
	}
	ch := Challenge{
		AccountNumber: accountNumber,
		BankName:      normalizeBank(bankName),
		CodeHash:      HashCode(accountNumber, bankName, code),
		ExpiresAt:     issued.ExpiresAt,
	}
	if err := s.store.Save(ctx, ch, s.ttl); err != nil {
		return Issued{}, fmt.Errorf("save challenge: %w", err)
	}
	return issued, nil
}

// Verify consumes the challenge when code matches.
func (s *Service) Verify(ctx context.Context, accountNumber, bankName, code string) (Receipt, error) {
	code = strings.TrimSpace(code)
	now := s.clock.Now()
	hash := HashCode(accountNumber, bankName, code)
	remaining, err := s.store.Consume(ctx, accountNumber, normalizeBank(bankName), hash, now)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{
		Challenge: Challenge{
			AccountNumber: accountNumber,
			BankName:      normalizeBank(bankName),
			CodeHash:      hash,
			ExpiresAt:     now.Add(remaining),
		},
		Remaining: remaining,
	}, nil
}

// Restore makes a consumed code usable again for what was left of its
// lifetime. It is a no-op when the code has expired meanwhile or a newer
// code was issued for the pair.
func (s *Service) Restore(ctx context.Context, r Receipt) error {
	ttl := r.Challenge.ExpiresAt.Sub(s.clock.Now())
	if r.Challenge.CodeHash == "" || ttl <= 0 {
		return nil
	}
	if err := s.store.Restore(ctx, r.Challenge, ttl); err != nil {
		return fmt.Errorf("restore challenge: %w", err)
	}
	return nil
}

// HashCode binds the code to its account and bank pair.
func HashCode(accountNumber, bankName, code string) string {
	sum := sha256.Sum256([]byte(accountNumber + "|" + normalizeBank(bankName) + "|" + code))
	return hex.EncodeToString(sum[:])
}

func hashesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func normalizeBank(bankName string) string {
	return strings.ToLower(strings.TrimSpace(bankName))
}

func key(accountNumber, bankName string) string {
	return normalizeBank(bankName) + ":" + accountNumber
}
