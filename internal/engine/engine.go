// Package engine wires together the taker bot's subsystems for the single
// configured market: auth, REST client, market metadata, the local order
// book, the oracle signal client, the decision loop, the fill tracker, the
// Position Gate, and on-disk position persistence.
//
// Unlike a multi-market scanner-driven design, this engine never discovers
// or rotates markets at runtime — it resolves one market's metadata once at
// startup and runs every subsystem as a long-lived goroutine for the
// lifetime of the process.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"polytaker/internal/config"
	"polytaker/internal/decision"
	"polytaker/internal/exchange"
	"polytaker/internal/market"
	"polytaker/internal/oracle"
	"polytaker/internal/risk"
	"polytaker/internal/store"
	"polytaker/pkg/types"
)

// Engine owns the lifetime of every subsystem for the one configured
// market and coordinates graceful startup and shutdown.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	auth   *exchange.Auth
	client *exchange.Client
	meta   types.MarketMeta

	book        *market.Book
	marketFeed  *exchange.WSFeed
	userFeed    *exchange.WSFeed
	oracleClnt  *oracle.Client
	gate        *risk.Gate
	loop        *decision.Loop
	fillTracker *exchange.FillTracker
	store       *store.Store

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New resolves market metadata, restores any persisted position, and wires
// every subsystem together. It does not start any goroutines — call Start
// for that.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	ctx, cancel := context.WithCancel(context.Background())

	auth, err := exchange.NewAuth(cfg)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create auth: %w", err)
	}

	client := exchange.NewClient(cfg, auth, logger)

	if !auth.HasL2Credentials() && !cfg.DryRun {
		creds, err := client.DeriveAPIKey(ctx)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("derive l2 credentials: %w", err)
		}
		auth.SetCredentials(*creds)
	}

	metaClient := market.NewMetaClient(cfg)
	meta, err := metaClient.FetchMarketMeta(ctx, cfg.Market)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("fetch market metadata: %w", err)
	}
	logger.Info("market resolved", "condition_id", meta.ConditionID, "slug", meta.Slug, "tick_size", meta.TickSize)

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open store: %w", err)
	}

	gate := risk.NewGate(cfg.Risk)
	if pos, err := st.LoadPosition(); err != nil {
		logger.Warn("failed to load persisted position, starting flat", "error", err)
	} else if pos != nil {
		gate.Restore(*pos)
		logger.Info("position restored", "yes_tokens", pos.YesTokens.String(), "no_tokens", pos.NoTokens.String())
	}

	book := market.NewBook(meta.ConditionID, meta.YesTokenID, meta.NoTokenID)

	// Bootstrap the book from a REST snapshot so the decision loop isn't
	// blind for the interval between connecting and the first WS "book" event.
	for _, tokenID := range []string{meta.YesTokenID, meta.NoTokenID} {
		resp, err := client.GetOrderBook(ctx, tokenID)
		if err != nil {
			logger.Warn("initial book fetch failed, awaiting websocket snapshot", "token_id", tokenID, "error", err)
			continue
		}
		if err := book.ApplyBookResponse(resp); err != nil {
			logger.Warn("initial book snapshot rejected", "token_id", tokenID, "error", err)
		}
	}

	marketFeed := exchange.NewMarketFeed(cfg.API.WSMarketURL, logger)
	userFeed := exchange.NewUserFeed(cfg.API.WSUserURL, auth, logger)

	oracleClnt := oracle.NewClient(cfg, logger)

	loop := decision.NewLoop(cfg.Decision, cfg.Oracle.SignalTTL, *meta, book, oracleClnt, gate, client, cfg.Decision.FeeRateBps, logger)

	e := &Engine{
		cfg:        cfg,
		logger:     logger,
		auth:       auth,
		client:     client,
		meta:       *meta,
		book:       book,
		marketFeed: marketFeed,
		userFeed:   userFeed,
		oracleClnt: oracleClnt,
		gate:       gate,
		loop:       loop,
		store:      st,
		ctx:        ctx,
		cancel:     cancel,
	}
	e.fillTracker = exchange.NewFillTracker(userFeed, gate, e.persist, logger)

	return e, nil
}

// Start subscribes both WebSocket feeds and launches every subsystem's
// goroutine. Returns once subscriptions are sent; subsystems keep running
// until Stop is called.
func (e *Engine) Start() error {
	if err := e.marketFeed.Subscribe(e.ctx, []string{e.meta.YesTokenID, e.meta.NoTokenID}); err != nil {
		return fmt.Errorf("subscribe market feed: %w", err)
	}
	if err := e.userFeed.Subscribe(e.ctx, []string{e.meta.ConditionID}); err != nil {
		return fmt.Errorf("subscribe user feed: %w", err)
	}

	e.goRun("market_feed", func(ctx context.Context) error { return e.marketFeed.Run(ctx) })
	e.goRun("user_feed", func(ctx context.Context) error { return e.userFeed.Run(ctx) })
	e.goRun("oracle_client", e.oracleClnt.Run)
	e.goRun("market_dispatch", e.dispatchMarketEvents)
	e.goRun("fill_tracker", e.fillTracker.Run)
	e.goRun("decision_loop", func(ctx context.Context) error {
		e.loop.Run(ctx)
		return nil
	})
	e.goRun("position_persist", e.periodicPersist)

	e.logger.Info("engine started", "market", e.meta.ConditionID, "dry_run", e.cfg.DryRun)
	return nil
}

// goRun launches fn in a tracked goroutine, logging a non-cancellation
// error on exit.
func (e *Engine) goRun(name string, fn func(ctx context.Context) error) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := fn(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("subsystem exited unexpectedly", "subsystem", name, "error", err)
		}
	}()
}

// dispatchMarketEvents feeds incoming book/price_change events (and
// reconnect notifications) from the market WS feed into the local Book.
func (e *Engine) dispatchMarketEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-e.marketFeed.BookEvents():
			if err := e.book.ApplyBookEvent(evt); err != nil {
				e.logger.Warn("book event rejected, forcing resubscribe", "error", err, "asset_id", evt.AssetID)
				e.resyncBook(ctx, evt.AssetID)
			} else {
				e.loop.Notify()
			}
		case evt := <-e.marketFeed.PriceChangeEvents():
			if err := e.book.ApplyPriceChange(evt); err != nil {
				e.logger.Warn("price_change rejected, forcing resubscribe", "error", err)
				e.resyncAll(ctx)
			} else {
				e.loop.Notify()
			}
		case <-e.marketFeed.Reconnected():
			e.logger.Info("market feed reconnected, book reset pending fresh snapshot")
			e.book.Reset()
		}
	}
}

// resyncBook fetches a fresh REST snapshot for one token after a rejected
// delta (crossed book or buffer overflow) rather than waiting for the next
// periodic WS "book" broadcast.
func (e *Engine) resyncBook(ctx context.Context, tokenID string) {
	resp, err := e.client.GetOrderBook(ctx, tokenID)
	if err != nil {
		e.logger.Error("resync fetch failed", "token_id", tokenID, "error", err)
		return
	}
	if err := e.book.ApplyBookResponse(resp); err != nil {
		e.logger.Error("resync snapshot rejected", "token_id", tokenID, "error", err)
	}
}

func (e *Engine) resyncAll(ctx context.Context) {
	e.resyncBook(ctx, e.meta.YesTokenID)
	e.resyncBook(ctx, e.meta.NoTokenID)
}

// periodicPersist saves the position snapshot on a fixed cadence as a
// backstop in case a fill's immediate persist (via FillTracker's onUpdate
// callback) is ever missed.
func (e *Engine) periodicPersist(ctx context.Context) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.persist()
		}
	}
}

func (e *Engine) persist() {
	if err := e.store.SavePosition(e.gate.Snapshot()); err != nil {
		e.logger.Error("failed to persist position", "error", err)
	}
	e.loop.Notify()
}

// GateSnapshot returns the current position snapshot (e.g. for logging or
// future tooling).
func (e *Engine) GateSnapshot() risk.Position {
	return e.gate.Snapshot()
}

// Stop cancels every subsystem, waits for them to exit, cancels any
// resting orders as a safety net, persists the final position, and closes
// the store.
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()

	cancelCtx, cancelDone := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelDone()
	if _, err := e.client.CancelMarketOrders(cancelCtx, e.meta.ConditionID); err != nil {
		e.logger.Error("shutdown cancel-market-orders failed", "error", err)
	}

	e.persist()
	if err := e.store.Close(); err != nil {
		e.logger.Error("failed to close store", "error", err)
	}

	e.logger.Info("engine stopped")
}
