package vault

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"github.com/custodix/omnivault/internal/asset"
)

// Event is a committed state transition. Events fire after the transition
// they describe; an emitted event implies the mutation is durable in the
// ledger.
type Event interface {
	Kind() string
}

// Envelope wraps an event with its identity and commit time.
type Envelope struct {
	ID    string
	At    time.Time
	Event Event
}

// DepositRecorded fires when a deposit has been credited.
type DepositRecorded struct {
	Account            string
	AssetIn            asset.Symbol
	AmountIn           decimal.Decimal
	SettlementReceived decimal.Decimal
	NewBalance         decimal.Decimal
}

func (DepositRecorded) Kind() string { return "deposit_recorded" }

// WithdrawalRecorded fires when a withdrawal has been debited.
type WithdrawalRecorded struct {
	Account          string
	Amount           decimal.Decimal
	RemainingBalance decimal.Decimal
}

func (WithdrawalRecorded) Kind() string { return "withdrawal_recorded" }

// SwapExecuted fires when the venue settled a conversion during a deposit.
type SwapExecuted struct {
	Account       string
	Route         asset.Route
	AmountIn      decimal.Decimal
	SettlementOut decimal.Decimal
}

func (SwapExecuted) Kind() string { return "swap_executed" }

// AssetRegistered fires when an admin enables a deposit asset.
type AssetRegistered struct {
	Asset              asset.Symbol
	RequiresConversion bool
}

func (AssetRegistered) Kind() string { return "asset_registered" }

// AssetDeregistered fires when an admin tombstones a deposit asset.
type AssetDeregistered struct {
	Asset asset.Symbol
}

func (AssetDeregistered) Kind() string { return "asset_deregistered" }

// Sink consumes committed events. Publish must not block the vault for long;
// slow consumers belong behind FanoutSink.
type Sink interface {
	Publish(Envelope)
}

// MemorySink records envelopes for inspection, newest last.
type MemorySink struct {
	mu       sync.Mutex
	recorded []Envelope
}

// NewMemorySink constructs an empty recording sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Publish appends the envelope.
func (s *MemorySink) Publish(env Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, env)
}

// Events returns a copy of every recorded envelope.
func (s *MemorySink) Events() []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Envelope, len(s.recorded))
	copy(out, s.recorded)
	return out
}

// OfKind returns recorded envelopes whose event matches kind.
func (s *MemorySink) OfKind(kind string) []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Envelope
	for _, env := range s.recorded {
		if env.Event.Kind() == kind {
			out = append(out, env)
		}
	}
	return out
}

// FanoutSink publishes each envelope to every child sink concurrently and
// waits for all of them.
type FanoutSink struct {
	sinks []Sink
}

// NewFanoutSink composes sinks into one.
func NewFanoutSink(sinks ...Sink) *FanoutSink {
	return &FanoutSink{sinks: sinks}
}

// Publish delivers env to each child sink on its own goroutine.
func (f *FanoutSink) Publish(env Envelope) {
	var wg conc.WaitGroup
	for _, sink := range f.sinks {
		wg.Go(func() { sink.Publish(env) })
	}
	wg.Wait()
}

func newEnvelope(at time.Time, event Event) Envelope {
	return Envelope{ID: uuid.NewString(), At: at.UTC(), Event: event}
}
