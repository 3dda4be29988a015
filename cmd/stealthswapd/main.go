// Command stealthswapd runs the liquidity-maker daemon: it loads
// configuration, wires every collaborator through internal/daemon, and
// blocks until SIGINT or SIGTERM.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/catalogfi/stealthswapd/internal/chain/monero"
	"github.com/catalogfi/stealthswapd/internal/chain/solana"
	"github.com/catalogfi/stealthswapd/internal/config"
	"github.com/catalogfi/stealthswapd/internal/daemon"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "stealthswapd: load config: %v\n", err)
		return int(daemon.ExitConfigError)
	}

	chains, err := buildChains(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stealthswapd: build chain clients: %v\n", err)
		return int(daemon.ExitStartupError)
	}

	d, err := daemon.New(cfg, chains)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stealthswapd: %v\n", err)
		return int(daemon.ExitStartupError)
	}

	pidFile := daemon.NewPIDFile(pidFilePath())
	if err := pidFile.Write(); err != nil {
		fmt.Fprintf(os.Stderr, "stealthswapd: %v\n", err)
		return int(daemon.ExitStartupError)
	}
	defer pidFile.Remove()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	exitCode := int(daemon.ExitOK)
	func() {
		defer func() {
			if r := recover(); r != nil {
				fmt.Fprintf(os.Stderr, "stealthswapd: invariant violated: %v\n", r)
				exitCode = int(daemon.ExitInvariantPanic)
			}
		}()
		if err := d.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "stealthswapd: %v\n", err)
			exitCode = int(daemon.ExitStartupError)
		}
	}()
	return exitCode
}

// buildChains constructs the production Solana and Monero adapters from
// cfg. Their program ID and confirmation feed are deployment details
// outside the config file's own surface, so they're read from their own
// STEALTHSWAPD_-prefixed environment variables instead.
func buildChains(cfg config.Config) (daemon.Chains, error) {
	programID := os.Getenv("STEALTHSWAPD_SOLANA_PROGRAM_ID")
	tokenChain := solana.New(cfg.Solana.RPCURL, programID)

	privChain := monero.New(cfg.Monero.WalletRPCURL, "", "", os.Getenv("STEALTHSWAPD_MONERO_FEED_URL"))

	signingKey, err := readKeyFile(cfg.Solana.KeypairPath)
	if err != nil {
		return daemon.Chains{}, fmt.Errorf("load solana signing key: %w", err)
	}
	makerPrivKey, err := readKeyFile(cfg.Monero.WalletFile)
	if err != nil {
		return daemon.Chains{}, fmt.Errorf("load monero base spend key: %w", err)
	}

	return daemon.Chains{
		Token:        tokenChain,
		Private:      privChain,
		SigningKey:   signingKey,
		MakerPrivKey: makerPrivKey,
	}, nil
}

// pidFilePath honors STEALTHSWAPD_PID_FILE, falling back to a path next to
// the default working directory.
func pidFilePath() string {
	if path := os.Getenv("STEALTHSWAPD_PID_FILE"); path != "" {
		return path
	}
	return "./stealthswapd.pid"
}

// readKeyFile reads a 32-byte scalar stored as hex text, the format this
// build's crypto package expects: the adaptor-signature scheme operates
// directly on raw edwards25519 scalars, with no seed-phrase derivation
// step.
func readKeyFile(path string) ([32]byte, error) {
	var key [32]byte
	if path == "" {
		return key, fmt.Errorf("no key file configured")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return key, err
	}
	decoded, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return key, fmt.Errorf("decode hex key: %w", err)
	}
	if len(decoded) != 32 {
		return key, fmt.Errorf("key file must contain 32 bytes, got %d", len(decoded))
	}
	copy(key[:], decoded)
	return key, nil
}
