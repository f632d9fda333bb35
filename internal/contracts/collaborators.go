package contracts

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MarketDataFeed supplies the engine's inputs: the current portfolio and
// per-symbol return history. Implementations must report their last
// update time so the engine can refuse to compute on stale data.
type MarketDataFeed interface {
	// Portfolio returns the latest portfolio snapshot.
	Portfolio(ctx context.Context) (*Portfolio, error)

	// Returns returns up to lookback periodic returns per symbol,
	// oldest first.
	Returns(ctx context.Context, symbols []string, lookback int) (map[string][]float64, error)

	// BenchmarkReturns returns the benchmark return series used for
	// beta, oldest first.
	BenchmarkReturns(ctx context.Context, lookback int) ([]float64, error)

	// LastUpdate returns the timestamp of the freshest price the feed
	// holds for any held symbol.
	LastUpdate(ctx context.Context) (time.Time, error)
}

// ExecutionClient is the order-execution collaborator. The engine sends
// it sizing results as order intents and, on kill-switch execution, the
// close-all command. CloseAllPositions must be idempotent on the
// execution side: repeating it for the same reason must not flip
// positions that are already flat.
type ExecutionClient interface {
	// CloseAllPositions flattens every open position. It returns nil
	// only once the execution side confirms completion.
	CloseAllPositions(ctx context.Context, reason string) error

	// SubmitIntent hands a sized order intent to the execution side
	// and returns its order reference.
	SubmitIntent(ctx context.Context, intent *OrderIntent) (string, error)
}

// RoleAuthorizer validates that an actor holds a role before an
// override is accepted. Authentication itself is external; the engine
// only consumes the verdict.
type RoleAuthorizer interface {
	Authorize(ctx context.Context, actor, role string) error
}

// ErrNotAuthorized is returned when an actor does not hold the role.
var ErrNotAuthorized = errors.New("actor not authorized for role")

// MockExecutionClient implements ExecutionClient for tests and dry
// runs. It can be told to fail a number of close attempts to exercise
// the kill switch retry path.
type MockExecutionClient struct {
	mu           sync.Mutex
	closed       bool
	closeReason  string
	closeCalls   int
	failCloses   int
	intents      []OrderIntent
	nextOrderRef int
}

// NewMockExecutionClient creates a mock execution client.
func NewMockExecutionClient() *MockExecutionClient {
	return &MockExecutionClient{}
}

// FailNextCloses makes the next n CloseAllPositions calls fail.
func (m *MockExecutionClient) FailNextCloses(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCloses = n
}

// CloseAllPositions records the close command.
func (m *MockExecutionClient) CloseAllPositions(ctx context.Context, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeCalls++
	if m.failCloses > 0 {
		m.failCloses--
		return errors.New("execution venue unavailable")
	}

	m.closed = true
	m.closeReason = reason
	return nil
}

// SubmitIntent records the intent.
func (m *MockExecutionClient) SubmitIntent(ctx context.Context, intent *OrderIntent) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.intents = append(m.intents, *intent)
	m.nextOrderRef++
	return "MOCK-" + intent.Symbol, nil
}

// Closed reports whether close-all completed.
func (m *MockExecutionClient) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// CloseCalls returns how many close attempts were made.
func (m *MockExecutionClient) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}

// CloseReason returns the reason of the last successful close.
func (m *MockExecutionClient) CloseReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeReason
}

// Intents returns submitted order intents.
func (m *MockExecutionClient) Intents() []OrderIntent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OrderIntent, len(m.intents))
	copy(out, m.intents)
	return out
}
