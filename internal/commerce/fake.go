package commerce

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Client for tests. Balances are keyed by customer ref;
// failures are scripted per method.
type Fake struct {
	mu       sync.Mutex
	balances map[string]int64
	nextID   int

	CreditErr  error
	DebitErr   error
	BalanceErr error
	// BalanceErrByRef overrides BalanceErr for specific customer refs.
	BalanceErrByRef map[string]error

	CreditCalls  []FakeCall
	DebitCalls   []FakeCall
	BalanceCalls []string
}

type FakeCall struct {
	Ref      string
	Cents    int64
	Currency string
}

func NewFake() *Fake {
	return &Fake{balances: make(map[string]int64)}
}

// SetBalance seeds the external balance for a customer ref.
func (f *Fake) SetBalance(ref string, cents int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[ref] = cents
}

func (f *Fake) Credit(ctx context.Context, ref string, cents int64, currency string) (*Mutation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreditCalls = append(f.CreditCalls, FakeCall{Ref: ref, Cents: cents, Currency: currency})
	if f.CreditErr != nil {
		return nil, f.CreditErr
	}
	f.balances[ref] += cents
	f.nextID++
	return &Mutation{
		ExternalTransactionID: fmt.Sprintf("ext-txn-%d", f.nextID),
		NewBalanceCents:       f.balances[ref],
	}, nil
}

func (f *Fake) Debit(ctx context.Context, ref string, cents int64, currency string) (*Mutation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DebitCalls = append(f.DebitCalls, FakeCall{Ref: ref, Cents: cents, Currency: currency})
	if f.DebitErr != nil {
		return nil, f.DebitErr
	}
	f.balances[ref] -= cents
	f.nextID++
	return &Mutation{
		ExternalTransactionID: fmt.Sprintf("ext-txn-%d", f.nextID),
		NewBalanceCents:       f.balances[ref],
	}, nil
}

func (f *Fake) Balance(ctx context.Context, ref string, currency string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BalanceCalls = append(f.BalanceCalls, ref)
	if err, ok := f.BalanceErrByRef[ref]; ok {
		return 0, err
	}
	if f.BalanceErr != nil {
		return 0, f.BalanceErr
	}
	return f.balances[ref], nil
}
