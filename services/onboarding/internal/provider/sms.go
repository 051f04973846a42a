package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/xx-3-xx/BankWebsite/libs/logging"
)

type VerificationMessage struct {
	AccountNumber string
	BankName      string
	Code          string
	ExpiresAt     time.Time
}

// SMSSender delivers a verification code to the phone registered with the
// linked account.
type SMSSender interface {
	SendVerificationCode(ctx context.Context, msg VerificationMessage) error
}

// SimulatedSMSSender logs instead of sending. The code is only written at
// debug level so local runs can complete the link step.
type SimulatedSMSSender struct {
	Latency time.Duration
	Logger  *slog.Logger
}

func (s SimulatedSMSSender) SendVerificationCode(ctx context.Context, msg VerificationMessage) error {
	if err := Sleep(ctx, s.Latency); err != nil {
		return err
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("verification sms dispatched",
		"account_number", logging.MaskTail(msg.AccountNumber, 4),
		"bank_name", msg.BankName,
		"expires_at", msg.ExpiresAt.UTC().Format(time.RFC3339),
	)
	logger.Debug("simulated verification code", "account_number", logging.MaskTail(msg.AccountNumber, 4), "code", msg.Code)
	return nil
}
