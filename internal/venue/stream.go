package venue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/custodix/omnivault/internal/asset"
	"github.com/custodix/omnivault/internal/observability"
)

// PoolUpdate is a venue push notification about pool liquidity appearing or
// vanishing. Liquidity validated at registration time can be gone by swap
// time; the watcher makes that race observable.
type PoolUpdate struct {
	Base   string `json:"base"`
	Quote  string `json:"quote"`
	Active bool   `json:"active"`
}

// LiquidityWatcher maintains a live view of venue pools from the stream
// endpoint and reports changes.
type LiquidityWatcher struct {
	streamURL string
	onChange  func(PoolUpdate)

	mu    sync.RWMutex
	pools map[string]bool
}

// NewLiquidityWatcher constructs a watcher for the venue stream endpoint.
// onChange may be nil.
func NewLiquidityWatcher(streamURL string, onChange func(PoolUpdate)) *LiquidityWatcher {
	return &LiquidityWatcher{
		streamURL: streamURL,
		onChange:  onChange,
		pools:     make(map[string]bool),
	}
}

// Run consumes the stream until ctx is cancelled, reconnecting with
// exponential backoff on transport failures.
func (w *LiquidityWatcher) Run(ctx context.Context) error {
	operation := func() (struct{}, error) {
		if err := w.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return struct{}{}, backoff.Permanent(ctx.Err())
			}
			observability.Log().Error("venue stream disconnected",
				observability.F("error", err.Error()))
			return struct{}{}, err
		}
		return struct{}{}, nil
	}
	expo := backoff.NewExponentialBackOff()
	expo.MaxInterval = 30 * time.Second
	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(expo), backoff.WithMaxElapsedTime(0))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Seen reports the last pushed liquidity state for the pair, if any update
// arrived for it.
func (w *LiquidityWatcher) Seen(a, b asset.Symbol) (bool, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	active, ok := w.pools[streamPairKey(a.String(), b.String())]
	return active, ok
}

func (w *LiquidityWatcher) consume(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, w.streamURL, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "shutdown")
	}()

	for {
		_, payload, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var update PoolUpdate
		if err := json.Unmarshal(payload, &update); err != nil {
			observability.Log().Debug("dropping malformed pool update",
				observability.F("error", err.Error()))
			continue
		}
		w.apply(update)
	}
}

func (w *LiquidityWatcher) apply(update PoolUpdate) {
	key := streamPairKey(update.Base, update.Quote)
	w.mu.Lock()
	prev, known := w.pools[key]
	w.pools[key] = update.Active
	w.mu.Unlock()

	value := 0.0
	if update.Active {
		value = 1.0
	}
	observability.Telemetry().SetGauge(observability.MetricPoolLiquidity, value,
		map[string]string{"pair": key})

	if known && prev && !update.Active {
		observability.Log().Info("venue pool liquidity vanished",
			observability.F("pair", key))
	}
	if w.onChange != nil {
		w.onChange(update)
	}
}

func streamPairKey(base, quote string) string {
	a := string(asset.Normalize(base))
	b := string(asset.Normalize(quote))
	if a > b {
		a, b = b, a
	}
	return a + "/" + b
}
