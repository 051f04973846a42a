// Package rate throttles verification code requests per linked account.
package rate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/xx-3-xx/BankWebsite/libs/logging"
)

// Key is the external account a code is requested for. Bank names compare
// case-insensitively.
type Key struct {
	AccountNumber string
	BankName      string
}

func KeyFor(accountNumber, bankName string) Key {
	return Key{
		AccountNumber: accountNumber,
		BankName:      strings.ToLower(strings.TrimSpace(bankName)),
	}
}

// Digest identifies the key without exposing the account number. Stores
// and event ids use it instead of the raw pair.
func (k Key) Digest() string {
	sum := sha256.Sum256([]byte(k.BankName + "|" + k.AccountNumber))
	return hex.EncodeToString(sum[:16])
}

// String is the masked form used in logs.
func (k Key) String() string {
	return k.BankName + ":" + logging.MaskTail(k.AccountNumber, 4)
}

// Policy allows Limit requests in any trailing Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

func (p Policy) valid() bool {
	return p.Limit > 0 && p.Window > 0
}

type Decision struct {
	Allowed bool
	// Remaining is how many more requests fit in the current window.
	Remaining int
	// RetryAfter is set when the request was refused: the time until the
	// oldest counted request leaves the window.
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key Key, now time.Time) (Decision, error)
}

// Unlimited allows every request. Used when throttling is disabled.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, Key, time.Time) (Decision, error) {
	return Decision{Allowed: true, Remaining: -1}, nil
}
