package storage

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the onboarding tables when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) InsertAudit(ctx context.Context, log AuditLog) error {
	metadata := log.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO onboarding_audit_logs (action, entity_id, request_id, ip, user_agent, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`, log.Action, log.EntityID, log.RequestID, log.IP, log.UserAgent, metadata)
	return err
}

func (s *Store) CreateLinkedAccount(ctx context.Context, acct LinkedAccount) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO linked_accounts (account_id, account_number, linked_account_number, bank_name, account_type, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, acct.AccountID, acct.AccountNumber, acct.LinkedAccountNumber, acct.BankName, acct.AccountType, acct.Status, acct.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert linked account: %w", err)
	}
	return nil
}
