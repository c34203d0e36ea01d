package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// StubPayment records one settle call made against the stub.
type StubPayment struct {
	Recipient   string
	Amount      decimal.Decimal
	Description string
}

// Stub is an in-memory gateway for tests and offline runs. It settles
// every payment unless configured otherwise.
type Stub struct {
	mu sync.Mutex

	// Degraded makes every settle report unpaid, exercising the direct
	// accounting fallback.
	Degraded bool
	// SettleErr, when set, is returned from Settle to simulate an
	// unreachable gateway.
	SettleErr error

	Payments []StubPayment
	TopUps   []string
}

// NewStub creates a settling stub gateway.
func NewStub() *Stub {
	return &Stub{}
}

func (s *Stub) Settle(_ context.Context, recipient string, amount decimal.Decimal, _ string) (Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.SettleErr != nil {
		return Receipt{}, s.SettleErr
	}
	if s.Degraded {
		return Receipt{Status: 402}, nil
	}

	s.Payments = append(s.Payments, StubPayment{Recipient: recipient, Amount: amount})
	return Receipt{
		Paid:    true,
		Settled: true,
		TxHash:  fmt.Sprintf("0xstub%04d", len(s.Payments)),
		Status:  200,
	}, nil
}

func (s *Stub) TopUpGas(_ context.Context, wallet string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TopUps = append(s.TopUps, wallet)
	return nil
}
