package provider

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Profile struct {
	FullName    string
	NationalID  string
	PhoneNumber string
	Email       string
	Address     string
	FaceEnabled bool
}

// Registrar creates the customer record for a validated profile.
type Registrar interface {
	Register(ctx context.Context, profile Profile) (string, error)
}

type SimulatedRegistrar struct {
	Latency time.Duration
}

func (r SimulatedRegistrar) Register(ctx context.Context, _ Profile) (string, error) {
	if err := Sleep(ctx, r.Latency); err != nil {
		return "", err
	}
	return "CUST-" + uuid.NewString(), nil
}
