package provider

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

type LinkRequest struct {
	AccountNumber string
	BankName      string
	AccountType   string
}

type IssuedAccount struct {
	AccountID     string
	AccountNumber string
	CreatedAt     time.Time
}

// AccountIssuer opens the new bank account once an external account has
// been linked.
type AccountIssuer interface {
	Issue(ctx context.Context, req LinkRequest) (IssuedAccount, error)
}

type SimulatedAccountIssuer struct {
	Latency time.Duration
	Now     func() time.Time
}

func (s SimulatedAccountIssuer) Issue(ctx context.Context, _ LinkRequest) (IssuedAccount, error) {
	if err := Sleep(ctx, s.Latency); err != nil {
		return IssuedAccount{}, err
	}
	number, err := RandomDigits(10, true)
	if err != nil {
		return IssuedAccount{}, err
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return IssuedAccount{
		AccountID:     "ACC-" + uuid.NewString(),
		AccountNumber: number,
		CreatedAt:     now().UTC(),
	}, nil
}

// RandomDigits returns n crypto-random decimal digits. With noLeadingZero
// the first digit is 1-9.
func RandomDigits(n int, noLeadingZero bool) (string, error) {
	if n <= 0 || n > 18 {
		return "", fmt.Errorf("invalid digit count %d", n)
	}
	lo := big.NewInt(0)
	hi := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	if noLeadingZero {
		lo = new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n-1)), nil)
	}
	span := new(big.Int).Sub(hi, lo)
	v, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", fmt.Errorf("generate digits: %w", err)
	}
	v.Add(v, lo)
	return fmt.Sprintf("%0*d", n, v.Int64()), nil
}
