package escrow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	ErrEscrowNotFound   = errors.New("escrow not found")
	ErrEscrowNotFunded  = errors.New("escrow not fully funded")
	ErrEscrowResolved   = errors.New("escrow already resolved")
	ErrDepositorUnknown = errors.New("winner is not a depositor")
)

type accountStatus string

const (
	statusOpen     accountStatus = "open"
	statusFunded   accountStatus = "funded"
	statusSettled  accountStatus = "settled"
	statusRefunded accountStatus = "refunded"
)

type account struct {
	matchID    string
	status     accountStatus
	amount     decimal.Decimal
	depositors []string
}

// MemoryClient is a deterministic in-process escrow used in development mode
// and in tests. It enforces the same lifecycle rules the chain gateway does,
// including idempotent refunds.
type MemoryClient struct {
	mu       sync.Mutex
	accounts map[string]*account

	Opens   int
	Joins   int
	Settles int
	Refunds int

	FailOpen   error
	FailJoin   error
	FailSettle error
	FailRefund error
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		accounts: map[string]*account{},
	}
}

func (c *MemoryClient) Open(_ context.Context, matchID, depositorID string, amount decimal.Decimal) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Opens++

	if c.FailOpen != nil {
		return "", c.FailOpen
	}

	address := fmt.Sprintf("esc_%s", matchID)

	c.accounts[address] = &account{
		matchID:    matchID,
		status:     statusOpen,
		amount:     amount,
		depositors: []string{depositorID},
	}

	return address, nil
}

func (c *MemoryClient) Join(_ context.Context, address, depositorID string, amount decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Joins++

	if c.FailJoin != nil {
		return c.FailJoin
	}

	acc, ok := c.accounts[address]
	if !ok {
		return ErrEscrowNotFound
	}

	if acc.status != statusOpen {
		return ErrEscrowResolved
	}

	if !acc.amount.Equal(amount) {
		return fmt.Errorf("deposit %s does not match wager %s", amount, acc.amount)
	}

	acc.status = statusFunded
	acc.depositors = append(acc.depositors, depositorID)

	return nil
}

func (c *MemoryClient) Settle(_ context.Context, address, winnerID string, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Settles++

	if c.FailSettle != nil {
		return c.FailSettle
	}

	acc, ok := c.accounts[address]
	if !ok {
		return ErrEscrowNotFound
	}

	if acc.status != statusFunded {
		return ErrEscrowNotFunded
	}

	isDepositor := false

	for _, depositor := range acc.depositors {
		if depositor == winnerID {
			isDepositor = true

			break
		}
	}

	if !isDepositor {
		return ErrDepositorUnknown
	}

	acc.status = statusSettled

	return nil
}

func (c *MemoryClient) Refund(_ context.Context, address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Refunds++

	if c.FailRefund != nil {
		return c.FailRefund
	}

	acc, ok := c.accounts[address]
	if !ok {
		// Refund against an escrow that was never opened is a defined no-op.
		return nil
	}

	if acc.status == statusSettled || acc.status == statusRefunded {
		return nil
	}

	acc.status = statusRefunded

	return nil
}

// Status reports the lifecycle state of an escrow, for tests.
func (c *MemoryClient) Status(address string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	acc, ok := c.accounts[address]
	if !ok {
		return "", false
	}

	return string(acc.status), true
}

var _ Client = (*MemoryClient)(nil)
