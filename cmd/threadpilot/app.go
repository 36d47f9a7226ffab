package main

import (
	"context"
	"fmt"
	"os"

	"github.com/TobiSchelling/threadpilot/internal/agent"
	"github.com/TobiSchelling/threadpilot/internal/archive"
	"github.com/TobiSchelling/threadpilot/internal/database"
	"github.com/TobiSchelling/threadpilot/internal/ledger"
	"github.com/TobiSchelling/threadpilot/internal/llm"
	"github.com/TobiSchelling/threadpilot/internal/localagent"
	"github.com/TobiSchelling/threadpilot/internal/logging"
	"github.com/TobiSchelling/threadpilot/internal/session"
)

// app holds the process-wide pieces a command works with.
type app struct {
	db     *database.DB
	ledger *ledger.RedisLedger
	sess   *session.Session
}

// openApp opens the database, connects the optional ledger and archive, and
// restores the latest stored scan into a fresh session. withLLM controls
// whether the built-in scan agent probes for an LLM provider.
func openApp(ctx context.Context, withLLM bool) (*app, error) {
	log := logging.With("cli")

	db, err := openDB()
	if err != nil {
		return nil, err
	}
	a := &app{db: db}

	opts := []session.Option{session.WithStore(db)}

	if cfg.Ledger.RedisURL != "" {
		l, err := openLedger(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("ledger unavailable, continuing without it")
		} else {
			a.ledger = l
			opts = append(opts, session.WithLedger(l))
		}
	}

	if cfg.Archive.Enabled {
		arch, err := archive.New(ctx, cfg.Archive)
		if err != nil {
			log.Warn().Err(err).Msg("archive unavailable, continuing without it")
		} else {
			opts = append(opts, session.WithArchiver(arch))
		}
	}

	a.sess = session.New(newCaller(withLLM), cfg, opts...)

	snap, err := db.LatestSnapshot()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("restoring latest scan: %w", err)
	}
	if snap != nil {
		if err := a.sess.Restore(snap.ScanID, snap.Result, snap.Approved, snap.Records); err != nil {
			a.Close()
			return nil, err
		}
		log.Debug().Str("scan_id", snap.ScanID).Int("drafts", len(snap.Result.Drafts)).Msg("restored scan")
	}
	return a, nil
}

func (a *app) Close() {
	if a.ledger != nil {
		a.ledger.Close()
	}
	a.db.Close()
}

// newCaller returns the configured agent transport. In local mode the LLM
// provider is only resolved when withLLM is set, so commands that never scan
// do not probe Ollama.
func newCaller(withLLM bool) agent.Caller {
	if cfg.Agents.Mode == "http" {
		token := ""
		if cfg.Agents.TokenEnv != "" {
			token = os.Getenv(cfg.Agents.TokenEnv)
		}
		return agent.NewHTTPCaller(cfg.Agents.BaseURL, token, cfg.Agents.Timeout())
	}

	var provider llm.Provider
	if withLLM {
		provider = llm.CreateProvider(cfg.LLM)
	}
	return localagent.New(cfg, provider)
}

func openLedger(ctx context.Context) (*ledger.RedisLedger, error) {
	return ledger.New(ctx, cfg.Ledger)
}

func openDB() (*database.DB, error) {
	if err := os.MkdirAll(cfg.GetDataDir(), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.Open(cfg.DatabasePath())
}
