// driftgate is a layered policy-compliance daemon. Observations flow
// through ordered rule layers; per-subject divergence is tracked over a
// sliding window; decisions land in an append-only, hash-chained trail.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftgate/driftgate/internal/audit"
	"github.com/driftgate/driftgate/internal/config"
	"github.com/driftgate/driftgate/internal/dispatch"
	"github.com/driftgate/driftgate/internal/drift"
	"github.com/driftgate/driftgate/internal/engine"
	"github.com/driftgate/driftgate/internal/model"
	"github.com/driftgate/driftgate/internal/policydiff"
	"github.com/driftgate/driftgate/internal/ratelimit"
	"github.com/driftgate/driftgate/internal/registry"
	"github.com/driftgate/driftgate/internal/server"
	"github.com/driftgate/driftgate/internal/store"
)

// version is set by ldflags at build time.
var version = "dev"

func main() {
	var flagConfig string

	rootCmd := &cobra.Command{
		Use:   "driftgate",
		Short: "layered policy compliance with temporal drift scoring",
		Long: `driftgate validates observations against ordered rule layers and
tracks per-subject divergence over a sliding window. Critical layer
failures block; accumulated drift flags; everything is recorded in an
append-only, hash-chained decision trail.`,
	}
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ~/.driftgate/config.yaml)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(flagConfig)
		},
	}

	var initForce bool
	initCmd := &cobra.Command{
		Use:   "init-config",
		Short: "write commented default config and layer files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInitConfig(flagConfig, initForce)
		},
	}
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite existing files")

	checkCmd := &cobra.Command{
		Use:   "check-config",
		Short: "validate config and layer files without starting",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckConfig(flagConfig)
		},
	}

	var replayJSON bool
	replayCmd := &cobra.Command{
		Use:   "replay <observations.jsonl>",
		Short: "re-evaluate recorded observations against the current layer set",
		Long: `Reads observations (one JSON object per line: subject_id, timestamp,
payload) and runs them through a memory-only pipeline with the
configured layers. Prints decision counts and the final drift state
per subject. Nothing is persisted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(flagConfig, args[0], replayJSON)
		},
	}
	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "print results as JSON")

	verifyCmd := &cobra.Command{
		Use:   "verify-trail [path]",
		Short: "verify the decision trail hash chain",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerifyTrail(flagConfig, args)
		},
	}

	var diffJSON bool
	diffCmd := &cobra.Command{
		Use:   "diff-layers <old.yaml> <new.yaml>",
		Short: "show what changes between two layer files",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiffLayers(args[0], args[1], diffJSON)
		},
	}
	diffCmd.Flags().BoolVar(&diffJSON, "json", false, "print diff as JSON")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "print driftgate version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("driftgate %s\n", version)
		},
	}

	rootCmd.AddCommand(serveCmd, initCmd, checkCmd, replayCmd, diffCmd, verifyCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "driftgate: %s\n", err)
		os.Exit(1)
	}
}

func runServe(configPath string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, cfgHash, err := config.LoadWithHash(configPath)
	if err != nil {
		return err
	}
	logger.Info("configuration loaded", "hash", cfgHash, "durability", cfg.Durability)

	defs, layersHash, err := registry.LoadLayers(cfg.LayersPath)
	if err != nil {
		return err
	}
	reg, err := registry.FromDefs(defs)
	if err != nil {
		return err
	}
	logger.Info("layer set loaded", "layers", reg.Len(), "file_hash", layersHash, "policy_hash", reg.Hash())

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	var writer *store.Writer
	if cfg.Durability == "async" {
		writer = store.NewWriter(st, cfg.PersistBuffer, logger)
		defer writer.Close()
	}

	trail, err := audit.Open(cfg.TrailPath)
	if err != nil {
		return err
	}
	defer trail.Close()

	tracker := drift.NewTracker(cfg.Drift.Tracker())
	dispatcher := dispatch.New(cfg.FlagThreshold, cfg.Alerts, trail, logger)
	eng := engine.New(reg, tracker, dispatcher, engine.Options{
		Store:  st,
		Writer: writer,
		Logger: logger,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := eng.Restore(ctx); err != nil {
		return err
	}

	persistDepth := func() float64 { return 0 }
	if writer != nil {
		persistDepth = func() float64 { return float64(writer.Depth()) }
	}
	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Limit().Enabled() {
		limiter = ratelimit.New(cfg.RateLimit.Limit())
	}
	srv := server.New(eng, server.Config{
		LayersPath:   cfg.LayersPath,
		Limiter:      limiter,
		Logger:       logger,
		PersistDepth: persistDepth,
	})

	reloader, err := server.NewReloader(srv, []string{cfg.LayersPath}, logger)
	if err != nil {
		return err
	}
	go func() {
		if err := reloader.Run(ctx); err != nil {
			logger.Error("reloader stopped", "error", err)
		}
	}()

	go pruneLoop(ctx, st, tracker.Retention(), logger)

	err = srv.Run(ctx, cfg.ListenAddr)
	logger.Info("daemon stopped")
	return err
}

// pruneLoop ages out drift snapshots past the retention horizon.
func pruneLoop(ctx context.Context, st *store.Store, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-retention).UnixMilli()
			n, err := st.PruneBefore(ctx, cutoff)
			if err != nil {
				logger.Error("retention prune failed", "error", err)
			} else if n > 0 {
				logger.Info("drift snapshots pruned", "count", n)
			}
		}
	}
}

func runInitConfig(configPath string, force bool) error {
	if configPath == "" {
		configPath = config.DefaultPath()
	}
	layersPath := config.DefaultConfig().LayersPath

	if err := os.MkdirAll(filepath.Dir(configPath), 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	write := func(path, content string) error {
		if !force {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s exists (use --force to overwrite)", path)
			}
		}
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	}

	if err := write(configPath, config.DefaultConfigYAML()); err != nil {
		return err
	}
	return write(layersPath, registry.DefaultLayersYAML())
}

func runCheckConfig(configPath string) error {
	cfg, hash, err := config.LoadWithHash(configPath)
	if err != nil {
		return err
	}
	fmt.Printf("config:      OK (%s)\n", hash)

	defs, layersHash, err := registry.LoadLayers(cfg.LayersPath)
	if err != nil {
		return err
	}
	reg, err := registry.FromDefs(defs)
	if err != nil {
		return err
	}
	fmt.Printf("layers:      OK (%d layers, %s)\n", reg.Len(), layersHash)
	fmt.Printf("policy hash: %s\n", reg.Hash())
	return nil
}

type replayLine struct {
	SubjectID string        `json:"subject_id"`
	Timestamp int64         `json:"timestamp"`
	Payload   model.Payload `json:"payload"`
}

type replaySubject struct {
	SubjectID string           `json:"subject_id"`
	Allowed   int              `json:"allowed"`
	Flagged   int              `json:"flagged"`
	Blocked   int              `json:"blocked"`
	Rejected  int              `json:"rejected"`
	Drift     model.DriftState `json:"final_drift"`
}

func runReplay(configPath, inputPath string, asJSON bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	defs, _, err := registry.LoadLayers(cfg.LayersPath)
	if err != nil {
		return err
	}
	reg, err := registry.FromDefs(defs)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	tracker := drift.NewTracker(cfg.Drift.Tracker())
	// Memory-only pipeline: no store, no trail, no alerts.
	dispatcher := dispatch.New(cfg.FlagThreshold, nil, nil, logger)
	eng := engine.New(reg, tracker, dispatcher, engine.Options{Logger: logger})

	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	results := make(map[string]*replaySubject)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	ctx := context.Background()
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var line replayLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return fmt.Errorf("line %d: %w", lineNum, err)
		}

		rs := results[line.SubjectID]
		if rs == nil {
			rs = &replaySubject{SubjectID: line.SubjectID}
			results[line.SubjectID] = rs
		}

		report, err := eng.Submit(ctx, line.SubjectID, line.Timestamp, line.Payload)
		if err != nil {
			if model.IsValidation(err) {
				rs.Rejected++
				continue
			}
			return fmt.Errorf("line %d: %w", lineNum, err)
		}

		switch report.Decision {
		case model.Allow:
			rs.Allowed++
		case model.Flag:
			rs.Flagged++
		case model.Block:
			rs.Blocked++
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	subjects := make([]*replaySubject, 0, len(results))
	for _, rs := range results {
		rs.Drift = eng.Drift(rs.SubjectID)
		subjects = append(subjects, rs)
	}
	sort.Slice(subjects, func(i, j int) bool { return subjects[i].SubjectID < subjects[j].SubjectID })

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(subjects)
	}

	fmt.Printf("policy hash: %s\n\n", eng.PolicyHash())
	for _, rs := range subjects {
		fmt.Printf("%s\n", rs.SubjectID)
		fmt.Printf("  allow=%d flag=%d block=%d rejected=%d\n", rs.Allowed, rs.Flagged, rs.Blocked, rs.Rejected)
		fmt.Printf("  drift: score=%.3f trend=%s samples=%d\n", rs.Drift.Score, rs.Drift.Trend, rs.Drift.SampleCount)
	}
	return nil
}

func runDiffLayers(oldPath, newPath string, asJSON bool) error {
	oldDefs, _, err := registry.LoadLayers(oldPath)
	if err != nil {
		return err
	}
	newDefs, _, err := registry.LoadLayers(newPath)
	if err != nil {
		return err
	}

	oldReg, err := registry.FromDefs(oldDefs)
	if err != nil {
		return fmt.Errorf("%s: %w", oldPath, err)
	}
	newReg, err := registry.FromDefs(newDefs)
	if err != nil {
		return fmt.Errorf("%s: %w", newPath, err)
	}

	r := policydiff.Diff(oldDefs, newDefs)
	r.OldHash = oldReg.Hash()
	r.NewHash = newReg.Hash()

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	fmt.Print(policydiff.Format(r))
	return nil
}

func runVerifyTrail(configPath string, args []string) error {
	path := ""
	if len(args) > 0 {
		path = args[0]
	} else {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		path = cfg.TrailPath
	}

	res := audit.Verify(path)
	if !res.Valid {
		return fmt.Errorf("trail INVALID at line %d: %s", res.ErrorLine, res.Error)
	}
	fmt.Printf("trail OK: %d entries, chain intact\n", res.Lines)
	fmt.Printf("  allow=%d flag=%d block=%d\n",
		res.Decisions["allow"], res.Decisions["flag"], res.Decisions["block"])
	return nil
}
