package model

import (
	"context"
	"time"
)

// ── Collaborator Port Interfaces ──
// These interfaces decouple the indicator/signal engine from concrete
// brokers, feeds and stores. The Alpaca adapters, the paper broker and the
// SQLite store each satisfy one or more of them.

// Clock reports whether the market is currently open.
type Clock interface {
	IsOpen(ctx context.Context) (bool, error)
}

// PositionQuery lists open positions held at the broker.
type PositionQuery interface {
	ListOpenPositions(ctx context.Context) ([]BrokerPosition, error)
}

// OrderExecutor submits orders to the broker.
type OrderExecutor interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderConfirmation, error)
}

// Broker bundles the three live collaborators.
type Broker interface {
	Clock
	PositionQuery
	OrderExecutor
}

// HistoricalFeed supplies a finite, time-ordered sequence of bars between
// two instants (inclusive) for backtests and warm starts.
type HistoricalFeed interface {
	Bars(ctx context.Context, symbol string, from, to time.Time) ([]Bar, error)
}

// BarWriter persists bars as they arrive.
type BarWriter interface {
	// Run reads events from barCh and writes them.
	// Blocks until ctx is cancelled or barCh is closed.
	Run(ctx context.Context, barCh <-chan BarEvent)

	// Close releases underlying resources.
	Close() error
}
