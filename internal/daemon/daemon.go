// Package daemon wires every collaborator together and owns the
// top-level supervisor loop: build, run until SIGINT/SIGTERM, shut down in
// dependency order.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"filippo.io/edwards25519"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/catalogfi/stealthswapd/internal/chain"
	"github.com/catalogfi/stealthswapd/internal/config"
	"github.com/catalogfi/stealthswapd/internal/engine"
	"github.com/catalogfi/stealthswapd/internal/logging"
	"github.com/catalogfi/stealthswapd/internal/metrics"
	"github.com/catalogfi/stealthswapd/internal/quote"
	"github.com/catalogfi/stealthswapd/internal/rpc"
	"github.com/catalogfi/stealthswapd/internal/store"
	"github.com/catalogfi/stealthswapd/internal/vault"
	"github.com/catalogfi/stealthswapd/internal/watcher"
)

// ExitCode enumerates the daemon's process exit codes by failure class.
type ExitCode int

const (
	ExitOK             ExitCode = 0
	ExitConfigError    ExitCode = 1
	ExitStartupError   ExitCode = 2
	ExitInvariantPanic ExitCode = 3
)

// StartupError wraps a failure in building the daemon's collaborators
// (store/vault/chain clients), distinct from config errors, so main can
// map it to exit code 2.
type StartupError struct{ Cause error }

func (e *StartupError) Error() string { return fmt.Sprintf("daemon: startup: %v", e.Cause) }
func (e *StartupError) Unwrap() error { return e.Cause }

// Chains bundles the two concrete chain adapters the daemon needs; main
// constructs these from cfg before calling New, since their construction
// is itself adapter-specific (RPC dialing, wallet RPC auth) and outside
// this package's concern.
type Chains struct {
	Token        chain.TokenChain
	Private      chain.PrivateChain
	MakerPrivKey [32]byte // base Monero private spend scalar; its public key is the subaddress base
	SigningKey   [32]byte // token-chain signing scalar
}

// Daemon owns every long-lived collaborator and the goroutines that make
// them run: the engine's drivers, the watcher pool, and the HTTP server.
type Daemon struct {
	cfg     config.Config
	logger  *zap.Logger
	store   store.Store
	vault   vault.Vault
	metrics *metrics.Registry
	quotes  *quote.Service
	engine  *engine.Engine
	watcher *watcher.Pool
	server  *rpc.Server

	db *gorm.DB
}

// New builds every collaborator but starts nothing; callers call Run to
// actually start the engine, watcher pool, and HTTP server.
func New(cfg config.Config, chains Chains) (*Daemon, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, &StartupError{Cause: err}
	}

	db, err := openDB(cfg.Database)
	if err != nil {
		return nil, &StartupError{Cause: err}
	}

	st, err := store.New(db)
	if err != nil {
		return nil, &StartupError{Cause: err}
	}

	passphrase := config.VaultPassphrase()
	vlt, err := vault.New(db, passphrase)
	if err != nil {
		return nil, &StartupError{Cause: err}
	}

	reg, err := metrics.New(db)
	if err != nil {
		return nil, &StartupError{Cause: err}
	}

	qcfg := quote.Config{
		MinTokenAmount: cfg.Quoting.MinUSDC,
		MaxTokenAmount: cfg.Quoting.MaxUSDC,
		SpreadBps:      cfg.Quoting.SpreadBps,
		TTL:            time.Duration(cfg.Quoting.ExpiryMinutes) * time.Minute,
		SafetyMargin:   cfg.Quoting.SafetyMargin,
		DeadlineOne:    cfg.Quoting.DeadlineOne,
	}
	rates := rateSource{token: chains.Token, priv: chains.Private}
	liquidity := liquiditySource{token: chains.Token, priv: chains.Private}
	makerSpend, err := edwards25519.NewScalar().SetCanonicalBytes(chains.MakerPrivKey[:])
	if err != nil {
		return nil, &StartupError{Cause: fmt.Errorf("maker spend key: %w", err)}
	}
	var baseAddress [32]byte
	copy(baseAddress[:], new(edwards25519.Point).ScalarBaseMult(makerSpend).Bytes())
	qsvc := quote.New(qcfg, rates, liquidity, vlt, baseAddress)

	eng := engine.New(st, vlt, chains.Token, chains.Private, chains.SigningKey, logger,
		engine.WithRefundRetryAttempts(cfg.Refund.RetryAttempts))

	watchCfg := watcher.DefaultConfig()
	pool := watcher.New(watchCfg, eng, st, chains.Token, chains.Private, logger)

	server := rpc.New(qsvc, eng, reg, logger, rpc.HealthCheck{
		Name: "store",
		Check: func() error {
			_, err := st.ActiveSwaps()
			return err
		},
	})

	return &Daemon{
		cfg: cfg, logger: logger, store: st, vault: vlt, metrics: reg,
		quotes: qsvc, engine: eng, watcher: pool, server: server, db: db,
	}, nil
}

// Run resumes any in-flight swaps, starts the watcher pool, and serves the
// HTTP façade until ctx is cancelled, then shuts every collaborator down
// in dependency order: façade first (stop accepting new work), then the
// watcher pool (stop producing events), then the engine (let drivers
// finish applying whatever they already have).
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.engine.Resume(ctx); err != nil {
		return fmt.Errorf("daemon: resume: %w", err)
	}
	if err := d.watcher.Start(ctx); err != nil {
		return fmt.Errorf("daemon: start watcher: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{Addr: d.cfg.Server.BindAddress, Handler: d.server.Router()}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		d.logger.Error("http server exited", zap.Error(err))
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		d.logger.Error("http server shutdown", zap.Error(err))
	}
	d.watcher.Stop()
	d.engine.Shutdown()
	return nil
}

func openDB(cfg config.DatabaseConfig) (*gorm.DB, error) {
	switch cfg.Driver {
	case "postgres":
		return gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
	default:
		return gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{})
	}
}

// marketRateSource is an optional capability a concrete chain adapter may
// implement to supply a live mid-market rate; adapters built only against
// chain.TokenChain/chain.PrivateChain don't need to implement it.
type marketRateSource interface {
	MidRate(direction store.Direction) (float64, error)
}

// balanceSource is the equivalent optional capability for liquidity checks,
// letting a quote check a chain client's balance without widening
// chain.TokenChain/PrivateChain themselves, since most of the engine's
// test doubles have no use for a balance method.
type balanceSource interface {
	Balance(ctx context.Context) (uint64, error)
}

// rateSource adapts whichever of the two chain clients implements
// marketRateSource; if neither does, MidRate returns a fixed 1:1 rate
// instead of an error, so quotes are priced at 1:1 plus the spread.
type rateSource struct {
	token chain.TokenChain
	priv  chain.PrivateChain
}

func (r rateSource) MidRate(direction store.Direction) (float64, error) {
	if src, ok := r.token.(marketRateSource); ok {
		return src.MidRate(direction)
	}
	if src, ok := r.priv.(marketRateSource); ok {
		return src.MidRate(direction)
	}
	return 1.0, nil
}

// liquiditySource checks the payout chain's observed balance against the
// quoted amount when the adapter exposes one, and otherwise assumes the
// maker is sufficiently funded rather than refusing every quote outright.
type liquiditySource struct {
	token chain.TokenChain
	priv  chain.PrivateChain
}

func (l liquiditySource) HasLiquidity(direction store.Direction, amount uint64) (bool, error) {
	ctx := context.Background()
	var src balanceSource
	if direction == store.TokenToPrivate {
		if b, ok := l.priv.(balanceSource); ok {
			src = b
		}
	} else if b, ok := l.token.(balanceSource); ok {
		src = b
	}
	if src == nil {
		return true, nil
	}
	balance, err := src.Balance(ctx)
	if err != nil {
		return false, err
	}
	return balance >= amount, nil
}
