// Package node provides the bootstrap pipeline for a remittance ledger node.
package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kittykatsky/Remittance/internal/api/rest"
	"github.com/kittykatsky/Remittance/internal/config"
	"github.com/kittykatsky/Remittance/internal/ledger"
	"github.com/kittykatsky/Remittance/internal/payout"
	"github.com/kittykatsky/Remittance/internal/storage"
	"github.com/kittykatsky/Remittance/internal/units"
)

// Controller bootstraps the node, wires all components, and runs until shutdown.
type Controller struct {
	cfg    *config.Config
	logger *zap.Logger
	clock  ledger.Clock
	state  stateHolder
}

// NewController creates a Controller.
func NewController(cfg *config.Config, logger *zap.Logger) *Controller {
	return &Controller{
		cfg:    cfg,
		logger: logger,
		clock:  ledger.SystemClock,
	}
}

// State returns the current serving lifecycle state.
func (c *Controller) State() NodeState { return c.state.load() }

func (c *Controller) setState(s NodeState) {
	c.state.store(s)
	c.logger.Info("Node state changed", zap.Stringer("state", s))
}

// Run bootstraps all components and blocks until SIGINT/SIGTERM or ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	c.setState(StateStarting)
	defer c.setState(StateStopped)

	// --- 1. Ledger parameters ---
	params, err := LedgerParams(c.cfg.Ledger)
	if err != nil {
		return err
	}
	genesis, err := c.genesisPlan(params.Fee)
	if err != nil {
		return err
	}

	// --- 2. Storage ---
	store, err := c.openStore()
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			c.logger.Error("Storage close failed", zap.Error(err))
		}
	}()

	// --- 3. Ledger ---
	accounts := payout.NewAccounts(c.logger)
	if err := c.seedAccounts(ctx, accounts); err != nil {
		return err
	}
	l, err := ledger.New(params, store, accounts, c.clock, c.logger)
	if err != nil {
		return fmt.Errorf("ledger init: %w", err)
	}
	defer func() {
		if err := l.Repair(); err != nil {
			c.logger.Error("Ledger store left inconsistent", zap.Error(err))
		}
	}()
	if err := c.fundGenesis(ctx, l, genesis); err != nil {
		return err
	}

	// --- 4. REST + schedulers until shutdown ---
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := rest.New(l, accounts, c.cfg.Ledger.Decimals, c.logger)
	srv.SetHealth(func() (string, bool) {
		if err := l.Err(); err != nil {
			return "inconsistent", false
		}
		s := c.State()
		return s.String(), s.IsReady()
	})
	httpSrv := &http.Server{Addr: c.cfg.REST.Addr, Handler: srv.Handler()}

	c.setState(StateServing)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.logger.Info("REST API listening", zap.String("addr", c.cfg.REST.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("rest serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		c.setState(StateDraining)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.cfg.REST.ShutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	if interval := c.cfg.Schedule.ExpiryReport; interval > 0 {
		g.Go(func() error {
			c.runExpiryReport(gctx, l, interval)
			return nil
		})
	}

	c.logger.Info("Node running",
		zap.Stringer("ledger", l.ID()),
		zap.Stringer("state", l.State()),
		zap.String("REST", c.cfg.REST.Addr),
	)
	return g.Wait()
}

// openStore opens the configured backend, retrying while another process
// still holds its lock.
func (c *Controller) openStore() (ledger.Store, error) {
	attempts := c.cfg.Storage.OpenAttempts
	if attempts == 0 {
		attempts = 1
	}
	var store ledger.Store
	err := retry.Do(func() error {
		s, err := storage.Open(c.cfg.Storage, c.logger)
		if err != nil {
			return err
		}
		store = s
		return nil
	},
		retry.Attempts(attempts),
		retry.Delay(1*time.Second),
		retry.MaxDelay(30*time.Second),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, storage.ErrUnknownBackend)
		}),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("Storage open retry", zap.Uint("attempt", n), zap.Error(err))
		}),
	)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// LedgerParams converts the ledger section of the config into genesis parameters.
func LedgerParams(cfg config.LedgerConfig) (ledger.Params, error) {
	var p ledger.Params
	var err error
	if cfg.Owner != "" {
		if p.Owner, err = ledger.ParseAddress(cfg.Owner); err != nil {
			return p, fmt.Errorf("ledger.owner: %w", err)
		}
	}
	if cfg.ID != "" {
		if p.ID, err = ledger.ParseAddress(cfg.ID); err != nil {
			return p, fmt.Errorf("ledger.id: %w", err)
		}
	}
	if p.Fee, err = units.Parse(cfg.Fee, cfg.Decimals); err != nil {
		return p, fmt.Errorf("ledger.fee: %w", err)
	}
	return p, nil
}

// genesisRemittance is the validated genesis section of the config.
type genesisRemittance struct {
	depositor ledger.Address
	releaser  ledger.Address
	secret    []byte
	amount    uint64
	duration  uint64
}

// genesisPlan validates the genesis section before any ledger is created, so
// a bad amount cannot leave a persisted ledger without its first remittance.
func (c *Controller) genesisPlan(fee uint64) (*genesisRemittance, error) {
	g := c.cfg.Genesis
	if !g.Enabled() {
		return nil, nil
	}
	depositor, err := ledger.ParseAddress(g.Depositor)
	if err != nil {
		return nil, fmt.Errorf("genesis.depositor: %w", err)
	}
	releaser, err := ledger.ParseAddress(g.Releaser)
	if err != nil {
		return nil, fmt.Errorf("genesis.releaser: %w", err)
	}
	amount, err := units.Parse(g.Amount, c.cfg.Ledger.Decimals)
	if err != nil {
		return nil, fmt.Errorf("genesis.amount: %w", err)
	}
	if amount <= fee {
		return nil, fmt.Errorf("genesis.amount: %w: %s does not exceed fee %s", ledger.ErrInsufficientValue,
			units.Format(amount, c.cfg.Ledger.Decimals), units.Format(fee, c.cfg.Ledger.Decimals))
	}
	return &genesisRemittance{
		depositor: depositor,
		releaser:  releaser,
		secret:    []byte(g.Secret),
		amount:    amount,
		duration:  g.DurationSeconds,
	}, nil
}

// fundGenesis creates the configured first remittance on a newly created ledger.
func (c *Controller) fundGenesis(ctx context.Context, l *ledger.Ledger, g *genesisRemittance) error {
	if g == nil {
		return nil
	}
	if !l.Created() {
		c.logger.Info("Genesis remittance skipped, ledger already exists", zap.Stringer("ledger", l.ID()))
		return nil
	}
	commitment := l.GeneratePuzzle(g.releaser, g.secret)
	d, err := l.CreateRemittance(ctx, g.depositor, commitment, g.duration, g.amount)
	if err != nil {
		return fmt.Errorf("genesis remittance: %w", err)
	}
	c.logger.Info("Genesis remittance funded",
		zap.Stringer("commitment", commitment),
		zap.Uint64("amount", d.Amount),
	)
	return nil
}

// seedAccounts credits the configured opening balances on the payout rail.
func (c *Controller) seedAccounts(ctx context.Context, accounts *payout.Accounts) error {
	for raw, amount := range c.cfg.Accounts.Initial {
		addr, err := ledger.ParseAddress(raw)
		if err != nil {
			return fmt.Errorf("accounts.initial: %w", err)
		}
		v, err := units.Parse(amount, c.cfg.Ledger.Decimals)
		if err != nil {
			return fmt.Errorf("accounts.initial %s: %w", raw, err)
		}
		if err := accounts.Transfer(ctx, addr, v); err != nil {
			return fmt.Errorf("accounts.initial %s: %w", raw, err)
		}
	}
	if n := len(c.cfg.Accounts.Initial); n > 0 {
		c.logger.Info("Payout accounts seeded", zap.Int("accounts", n))
	}
	return nil
}

func (c *Controller) runExpiryReport(ctx context.Context, l *ledger.Ledger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if count, amount := l.Overdue(); count > 0 {
				c.logger.Info("Expired remittances awaiting reclaim",
					zap.Int("count", count),
					zap.String("amount", units.Format(amount, c.cfg.Ledger.Decimals)),
				)
			}
		}
	}
}
