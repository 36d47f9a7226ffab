package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/threadpilot/internal/config"
	"github.com/TobiSchelling/threadpilot/internal/database"
	"github.com/TobiSchelling/threadpilot/internal/logging"
	"github.com/TobiSchelling/threadpilot/internal/model"
	"github.com/TobiSchelling/threadpilot/internal/server"
	"github.com/TobiSchelling/threadpilot/internal/session"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "threadpilot",
	Short:   "Scan, review and publish social threads",
	Long:    "threadpilot asks a scan agent for thread drafts, lets you review and approve them, and publishes the approved ones.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			logging.Init(logging.Config{Level: levelFor("INFO"), Pretty: true})
			return nil
		}

		if err := config.LoadEnv(); err != nil {
			return err
		}
		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logging.Init(logging.Config{Level: levelFor(cfg.Logging.Level), Pretty: cfg.Logging.Pretty})
		return nil
	},
}

func levelFor(configured string) string {
	if verbose {
		return "debug"
	}
	return configured
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(draftsCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(revokeCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(publishAllCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(ledgerCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("threadpilot", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/threadpilot/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure agents, sources, the LLM provider and Telegram.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current scan and database totals",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		snap := a.sess.Snapshot()
		if snap.Result == nil {
			fmt.Println("No scan yet. Run 'threadpilot scan' to create drafts.")
		} else {
			cur := a.sess.Stats()
			fmt.Printf("Current scan: %s (%s, %s)\n", snap.ScanID, snap.Result.Status, snap.Result.Timestamp)
			fmt.Printf("  Drafts: %d\n", cur.Total)
			fmt.Printf("  Approved: %d\n", cur.Approved)
			fmt.Printf("  Needs review: %d\n", cur.NeedsReview)
			fmt.Printf("  Published: %d\n", cur.Published)
			fmt.Printf("  Failed: %d\n", cur.Failed)
		}

		fmt.Println("\nAll scans:")
		fmt.Printf("  Scans: %d\n", stats.Scans)
		fmt.Printf("  Drafts: %d\n", stats.Drafts)
		fmt.Printf("  Approved: %d\n", stats.Approved)
		fmt.Printf("  Published: %d\n", stats.Published)
		fmt.Printf("  Failed: %d\n", stats.Failed)
		version, err := a.db.SchemaVersion()
		if err != nil {
			return err
		}
		fmt.Printf("\nDatabase: %s (schema v%d)\n", a.db.Path(), version)
		return nil
	},
}

// --- scan command ---

var scanOpts struct {
	threshold   int
	autoApprove int
	maxThreads  int
	style       string
	categories  []string
	sources     []string
	blocked     []string
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run the scan agent and store its drafts",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := scanSettings(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()
		a.sess.SetSettings(settings)

		var lastStep atomic.Int32
		a.sess.OnChange(func(snap session.Snapshot) {
			if snap.State != model.ScanScanning {
				return
			}
			if lastStep.Swap(int32(snap.Step)) != int32(snap.Step) {
				fmt.Printf("Step %d/%d: %s\n", snap.Step, model.StepComplete, snap.StepName)
			}
		})

		fmt.Println("Starting scan...")
		if err := a.sess.Scan(ctx); err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}

		snap := a.sess.Snapshot()
		fmt.Printf("\nScan %s complete (%s).\n", snap.ScanID, snap.Result.Status)
		for _, src := range snap.Result.ScannedItems.Stats {
			fmt.Printf("  %s: %d fetched, %d kept\n", src.Source, src.Fetched, src.Filtered)
		}
		fmt.Printf("  Drafts: %d, auto-approved: %d\n", len(snap.Result.Drafts), len(snap.Approved))
		fmt.Println("\nReview them with 'threadpilot drafts' or 'threadpilot serve'.")
		return nil
	},
}

func init() {
	f := scanCmd.Flags()
	f.IntVar(&scanOpts.threshold, "threshold", 0, "Override relevance threshold (0-100)")
	f.IntVar(&scanOpts.autoApprove, "auto-approve", 0, "Override auto-approve threshold (0-100)")
	f.IntVar(&scanOpts.maxThreads, "max-threads", 0, "Override maximum drafts per scan")
	f.StringVar(&scanOpts.style, "style", "", "Override thread style")
	f.StringSliceVar(&scanOpts.categories, "category", nil, "Override categories")
	f.StringSliceVar(&scanOpts.sources, "source", nil, "Override sources (news, papers)")
	f.StringSliceVar(&scanOpts.blocked, "block", nil, "Override blocked domains")
}

// scanSettings applies the flags that were set on top of the configured
// settings and validates the result.
func scanSettings(cmd *cobra.Command) (config.Settings, error) {
	s := cfg.Settings
	flags := cmd.Flags()
	if flags.Changed("threshold") {
		s.RelevanceThreshold = scanOpts.threshold
	}
	if flags.Changed("auto-approve") {
		s.AutoApproveThreshold = scanOpts.autoApprove
	}
	if flags.Changed("max-threads") {
		s.MaxThreadsPerScan = scanOpts.maxThreads
	}
	if flags.Changed("style") {
		s.ThreadStyle = scanOpts.style
	}
	if flags.Changed("category") {
		s.Categories = scanOpts.categories
	}
	if flags.Changed("source") {
		s.Sources = scanOpts.sources
	}
	if flags.Changed("block") {
		s.BlockedDomains = scanOpts.blocked
	}

	check := *cfg
	check.Settings = s
	if err := check.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// --- drafts command ---

var draftOpts struct {
	all            bool
	classification string
	review         string
	minScore       int
	approved       bool
	limit          uint64
}

var draftsCmd = &cobra.Command{
	Use:   "drafts",
	Short: "List stored drafts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		filter := database.DraftFilter{
			Classification: draftOpts.classification,
			MinScore:       draftOpts.minScore,
			ApprovedOnly:   draftOpts.approved,
			Limit:          draftOpts.limit,
		}
		if !draftOpts.all {
			filter.ScanID = a.sess.Snapshot().ScanID
			if filter.ScanID == "" {
				fmt.Println("No scan yet. Run 'threadpilot scan' to create drafts.")
				return nil
			}
		}
		review, err := session.ParseReviewFilter(draftOpts.review)
		if err != nil {
			return err
		}
		switch review {
		case session.ReviewNeedsReview:
			needs := true
			filter.NeedsReview = &needs
		case session.ReviewReady:
			needs := false
			filter.NeedsReview = &needs
		}

		rows, err := a.db.ListDrafts(filter)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Println("No drafts match.")
			return nil
		}

		for _, r := range rows {
			mark := " "
			if r.Approved {
				mark = "*"
			}
			status := string(r.Status)
			if status == "" {
				status = "-"
			}
			prefix := r.Draft.ID
			if draftOpts.all {
				prefix = r.ScanID + "/" + r.Draft.ID
			}
			fmt.Printf("  %s [%s] %3d %-10s %-8s %s\n", mark, prefix, r.Draft.RelevanceScore,
				r.Draft.Classification, status, r.Draft.Title)
			if r.Draft.RequiresReview {
				reason := r.Draft.ReviewReason
				if reason == "" {
					reason = "flagged by the agent"
				}
				fmt.Printf("        needs review: %s\n", reason)
			}
		}
		return nil
	},
}

func init() {
	f := draftsCmd.Flags()
	f.BoolVar(&draftOpts.all, "all", false, "List drafts of every stored scan")
	f.StringVar(&draftOpts.classification, "class", "", "Only drafts with this classification")
	f.StringVar(&draftOpts.review, "review", "all", "Review filter: all, needs_review or ready")
	f.IntVar(&draftOpts.minScore, "min-score", 0, "Minimum relevance score")
	f.BoolVar(&draftOpts.approved, "approved", false, "Only approved drafts")
	f.Uint64Var(&draftOpts.limit, "limit", 0, "Maximum number of drafts")
}

// --- approval commands ---

var approveCmd = &cobra.Command{
	Use:   "approve [draft-id...]",
	Short: "Approve drafts of the current scan",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setApproval(cmd.Context(), args, true)
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke [draft-id...]",
	Short: "Revoke approval of drafts of the current scan",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setApproval(cmd.Context(), args, false)
	},
}

func setApproval(ctx context.Context, ids []string, approve bool) error {
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, id := range ids {
		if approve {
			err = a.sess.Approve(id)
		} else {
			err = a.sess.Revoke(id)
		}
		if err != nil {
			return err
		}
	}
	fmt.Printf("%d draft(s) approved.\n", a.sess.Stats().Approved)
	return nil
}

// --- publish commands ---

var publishCmd = &cobra.Command{
	Use:   "publish [draft-id]",
	Short: "Publish one draft of the current scan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.sess.Publish(ctx, args[0])
		if err != nil {
			return err
		}
		if rec.Status != model.PublishSuccess {
			return fmt.Errorf("publishing %s failed: %s", args[0], rec.ErrorMessage)
		}
		fmt.Printf("Published %s", args[0])
		if rec.ExternalURL != "" {
			fmt.Printf(": %s", rec.ExternalURL)
		}
		fmt.Println()
		return nil
	},
}

var publishAllCmd = &cobra.Command{
	Use:   "publish-all",
	Short: "Publish every approved draft that is not yet published",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.sess.PublishAllApproved(ctx)
		fmt.Printf("Published: %d\n", len(report.Published))
		fmt.Printf("Skipped (already published): %d\n", len(report.Skipped))
		fmt.Printf("Failed: %d\n", len(report.Failed))
		for _, id := range report.Failed {
			fmt.Printf("  %s: %s\n", id, report.Errors[id])
		}
		if err != nil {
			return err
		}
		if len(report.Failed) > 0 {
			return fmt.Errorf("%d draft(s) failed to publish", len(report.Failed))
		}
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, a.sess, a.db, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}

// --- settings command ---

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Print the effective scan settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(map[string]config.Settings{"settings": cfg.Settings})
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		fmt.Println()
		fmt.Println(strings.TrimSpace(agentSummary()))
		return nil
	},
}

func agentSummary() string {
	if cfg.Agents.Mode == "http" {
		return fmt.Sprintf("Agents: %s and %s via %s", cfg.Agents.ScanAgent, cfg.Agents.PublishAgent, cfg.Agents.BaseURL)
	}
	return fmt.Sprintf("Agents: built in (LLM provider %s)", cfg.LLM.Provider)
}

// --- ledger command ---

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Manage the shared publish ledger",
}

var ledgerClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget every posted marker so drafts can be published again",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Ledger.RedisURL == "" {
			return fmt.Errorf("no ledger configured; set ledger.redis_url")
		}
		l, err := openLedger(cmd.Context())
		if err != nil {
			return err
		}
		defer l.Close()

		n, err := l.Forget(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d marker(s).\n", n)
		return nil
	},
}

func init() {
	ledgerCmd.AddCommand(ledgerClearCmd)
}
