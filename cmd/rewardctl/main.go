// Package main provides rewardctl, an operator CLI for reward pools:
// inspect and fund pools, list and claim rewards, and track quests.
//
// Usage:
//
//	rewardctl [global flags] <command> [args]
//
// Commands:
//
//	pool <poll-id>                     show the authoritative pool
//	fund <poll-id> <amount>            contribute to a crowdfunded pool
//	configure <poll-id> <total> <rwd>  set total fund and reward per response
//	claimable                          list pending and claimable rewards
//	claim <poll-id>                    claim one reward
//	quests <campaign-id>               sync quest progress
//	points <campaign-id>               estimate the campaign reward share
//	claim-quests <campaign-id>         claim campaign rewards
//	watch [poll-id...]                 follow pool events and list newly claimable rewards
//	unfinished                         list contributions interrupted before a terminal state
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"pulse-rewards/internal/config"
	"pulse-rewards/internal/logging"
	"pulse-rewards/internal/session"
)

// flagEnv maps global flags onto the environment variables they override.
var flagEnv = map[string]string{
	"rpc-endpoint":   "LEDGER_RPC_ENDPOINT",
	"ws-endpoint":    "LEDGER_WS_ENDPOINT",
	"pool-principal": "POOL_SERVICE_PRINCIPAL",
	"postgres-dsn":   "POSTGRES_DSN",
	"clickhouse-dsn": "CLICKHOUSE_DSN",
	"metrics-addr":   "METRICS_ADDR",
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet("rewardctl", flag.ContinueOnError)
	fs.String("rpc-endpoint", "", "ledger JSON-RPC endpoint (or set LEDGER_RPC_ENDPOINT)")
	fs.String("ws-endpoint", "", "ledger WebSocket endpoint (or set LEDGER_WS_ENDPOINT)")
	fs.String("pool-principal", "", "pool service principal granted allowances (or set POOL_SERVICE_PRINCIPAL)")
	fs.String("postgres-dsn", "", "PostgreSQL connection string (or set POSTGRES_DSN)")
	fs.String("clickhouse-dsn", "", "ClickHouse connection string (or set CLICKHOUSE_DSN)")
	fs.String("metrics-addr", "", "Prometheus metrics HTTP address (or set METRICS_ADDR)")
	useMemoryFlag := fs.Bool("use-memory", false, "use in-memory storage instead of PostgreSQL")
	verboseFlag := fs.Bool("verbose", false, "enable verbose (debug) logging")
	publicKeyFlag := fs.String("public-key", os.Getenv("CALLER_PUBLIC_KEY"), "hex Ed25519 public key of the caller (or set CALLER_PUBLIC_KEY)")
	envFileFlag := fs.String("env-file", ".env", "optional .env file")

	fs.SetInterspersed(false)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: rewardctl [flags] <command> [args]")
		fmt.Fprintln(os.Stderr, "Commands: pool, fund, configure, claimable, claim, quests, points, claim-quests, watch, unfinished")
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	// Flags win over the environment and the .env file.
	var setErr error
	fs.Visit(func(f *flag.Flag) {
		if name, ok := flagEnv[f.Name]; ok && setErr == nil {
			setErr = os.Setenv(name, f.Value.String())
		}
	})
	if setErr != nil {
		return setErr
	}
	if *useMemoryFlag {
		os.Setenv("USE_MEMORY", "true")
	}
	if *verboseFlag {
		os.Setenv("VERBOSE", "true")
	}

	args := fs.Args()
	if len(args) == 0 {
		fs.Usage()
		return fmt.Errorf("no command given")
	}

	cfg, err := config.Load(*envFileFlag)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Verbose)

	var sess *session.Session
	if *publicKeyFlag != "" {
		key, err := hex.DecodeString(*publicKeyFlag)
		if err != nil {
			return fmt.Errorf("decode --public-key: %w", err)
		}
		sess, err = session.SignIn(key)
		if err != nil {
			return err
		}
		defer sess.SignOut()
		p, _ := sess.Principal()
		log.Debug("signed in", "principal", p.String(), "session_id", sess.ID())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, cleanup, err := newApp(ctx, cfg, sess, log)
	if err != nil {
		return err
	}
	defer cleanup()

	if cfg.MetricsAddr != "" {
		go a.startHTTPServer(ctx, cfg.MetricsAddr)
	}

	return a.dispatch(ctx, args[0], args[1:])
}
