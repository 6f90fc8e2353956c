// Quill - Memory layer for a personal command assistant
// License: MIT
//
// Copyright (c) 2026 Quill contributors

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/quillmind/quill/pkg/agent"
	"github.com/quillmind/quill/pkg/config"
	"github.com/quillmind/quill/pkg/ingest"
	"github.com/quillmind/quill/pkg/logger"
	"github.com/quillmind/quill/pkg/memory"
	"github.com/quillmind/quill/pkg/providers"
)

var (
	flagConfig    string
	flagWorkspace string
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "quill",
		Short: "Memory-backed command assistant for your own files",
		Long: strings.TrimSpace(`quill remembers what is in your files and answers commands from that memory.

Use CLI commands to onboard, ingest directories, ask questions, search
memories, watch for file changes, and inspect workspace state.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (default ~/.quill/config.json)")
	root.PersistentFlags().StringVar(&flagWorkspace, "workspace", "default", "Workspace id")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newIngestCommand())
	root.AddCommand(newAskCommand())
	root.AddCommand(newSearchCommand())
	root.AddCommand(newWatchCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newReplCommand())
	return root
}

func configPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".quill", "config.json")
}

// services is everything a command needs, assembled from config.
type services struct {
	cfg       *config.Config
	store     *memory.SQLiteStore
	searcher  *memory.Searcher
	ingestor  *ingest.Ingestor
	processor *agent.Processor
}

func buildServices() (*services, error) {
	cfg, err := config.LoadConfig(configPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if lvl, err := logger.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	store, err := memory.NewSQLiteStore(cfg.StorePath())
	if err != nil {
		return nil, err
	}

	embedder := memory.NewChargramEmbedder()
	index, err := memory.NewVectorIndex(cfg.VectorPath(), embedder)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	store.AttachVectorIndex(index)
	searcher := memory.NewSearcher(store, index, cfg.Search.CacheSize, time.Duration(cfg.Search.CacheTTLSeconds)*time.Second)
	store.AttachSearchCache(searcher)

	var completer agent.Completer
	var extraction *providers.ExtractionClient
	if cfg.Provider.APIKey != "" {
		client := providers.NewClient(cfg.Provider.APIKey, cfg.Provider.APIBase, cfg.Provider.Model, time.Duration(cfg.Provider.TimeoutSeconds)*time.Second)
		completer = client
		extraction = providers.NewExtractionClient(client)
	} else {
		logger.InfoC("cli", "no provider API key configured, running with deterministic answers only")
	}

	var memExtractor ingest.MemoryExtractor
	if extraction != nil {
		memExtractor = extraction
	}
	ingestor := ingest.NewIngestor(store, nil, memExtractor, providers.Retryable, ingest.Options{
		AllowedExtensions:   cfg.Ingest.AllowedExtensions,
		ExcludePatterns:     cfg.Ingest.ExcludePatterns,
		MinFileBytes:        cfg.Ingest.MinFileBytes,
		MaxParseBytes:       cfg.Ingest.MaxParseBytes,
		PriorityFileCount:   cfg.Ingest.PriorityFileCount,
		PriorityBatchSize:   cfg.Ingest.PriorityBatchSize,
		BackgroundBatchSize: cfg.Ingest.BackgroundBatchSize,
		PriorityBatchDelay:  time.Duration(cfg.Ingest.PriorityBatchDelayMS) * time.Millisecond,
		BackgroundDelay:     time.Duration(cfg.Ingest.BackgroundBatchDelayMS) * time.Millisecond,
		SubBatchSize:        cfg.Ingest.SubBatchSize,
		MaxAttempts:         cfg.Ingest.MaxAttempts,
	})

	coordinator := agent.NewCoordinator(completer)
	processor := agent.NewProcessor(store, searcher, coordinator, extraction, cfg.Search.MaxResults)

	return &services{
		cfg:       cfg,
		store:     store,
		searcher:  searcher,
		ingestor:  ingestor,
		processor: processor,
	}, nil
}

func (s *services) Close() {
	_ = s.store.Close()
}

func newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "onboard",
		Short:   "Create default configuration and workspace directories",
		Example: "  quill onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			if _, err := os.Stat(path); err == nil {
				fmt.Printf("Config already exists at %s\n", path)
				return nil
			}
			cfg := config.DefaultConfig()
			if err := config.SaveConfig(path, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Join(cfg.WorkspacePath(), "state"), 0o755); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			fmt.Println("Set provider.api_key (or QUILL_PROVIDER_API_KEY) to enable language answers.")
			return nil
		},
	}
}

func newIngestCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "ingest <directory>",
		Short:   "Ingest a directory of files into workspace memory",
		Args:    cobra.ExactArgs(1),
		Example: "  quill ingest ~/notes",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildServices()
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := svc.ingestor.IngestDirectory(cmd.Context(), flagWorkspace, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Discovered %d files: %d ingested, %d unchanged, %d failed\n",
				res.Discovered, res.Ingested, res.Skipped, res.Failed)
			// The store closes when this process exits, so the background
			// phase must finish before we return.
			if res.Background != nil {
				fmt.Println("Waiting for background ingestion...")
				if err := res.Background.Wait(cmd.Context()); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newAskCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "ask <command>",
		Short:   "Run one command through the assistant",
		Args:    cobra.MinimumNArgs(1),
		Example: `  quill ask "open the budget spreadsheet"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildServices()
			if err != nil {
				return err
			}
			defer svc.Close()

			resp, err := svc.processor.ProcessCommand(cmd.Context(), agent.CommandRequest{
				CommandID:   "cmd-" + uuid.NewString(),
				WorkspaceID: flagWorkspace,
				UserID:      localUserID(),
				Text:        strings.Join(args, " "),
			})
			if err != nil {
				return err
			}
			printResponse(resp)
			// Exchange extraction is detached; finish it before the store
			// closes with the process.
			if err := svc.processor.WaitBackground(cmd.Context()); err != nil {
				logger.WarnCF("cli", "exchange extraction failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
			return nil
		},
	}
}

func localUserID() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}

func printResponse(resp *agent.CommandResponse) {
	fmt.Println(resp.AssistantText)
	for _, a := range resp.Actions {
		parts := make([]string, 0, len(a.Params))
		for k, v := range a.Params {
			parts = append(parts, k+"="+v)
		}
		fmt.Printf("  -> %s %s\n", a.Kind, strings.Join(parts, " "))
	}
}

func newSearchCommand() *cobra.Command {
	var limit int
	c := &cobra.Command{
		Use:     "search <query>",
		Short:   "Search workspace memories directly",
		Args:    cobra.MinimumNArgs(1),
		Example: `  quill search "quarterly budget"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildServices()
			if err != nil {
				return err
			}
			defer svc.Close()

			results, err := svc.searcher.SearchMemories(cmd.Context(), flagWorkspace, strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("No matching memories.")
				return nil
			}
			for _, r := range results {
				content := r.Content
				if len(content) > 120 {
					content = content[:120] + "..."
				}
				fmt.Printf("%.3f  [%s]  %s\n", r.Score, r.Kind, content)
			}
			return nil
		},
	}
	c.Flags().IntVar(&limit, "limit", 10, "Maximum results")
	return c
}

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "watch <directory>",
		Short:   "Watch a directory and re-ingest files as they change",
		Args:    cobra.ExactArgs(1),
		Example: "  quill watch ~/notes",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildServices()
			if err != nil {
				return err
			}
			defer svc.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			watcher := ingest.NewWatcher(svc.ingestor, flagWorkspace)
			if err := watcher.Watch(ctx, args[0]); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	var repair bool
	c := &cobra.Command{
		Use:     "status",
		Short:   "Show workspace memory counts",
		Example: "  quill status --repair",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildServices()
			if err != nil {
				return err
			}
			defer svc.Close()

			if repair {
				n, err := svc.store.RepairConfidence(cmd.Context(), flagWorkspace)
				if err != nil {
					return err
				}
				fmt.Printf("Repaired %d memories with out-of-range confidence\n", n)
			}

			total, byKind, err := svc.store.CountMemories(cmd.Context(), flagWorkspace)
			if err != nil {
				return err
			}
			fmt.Printf("Workspace %q: %d memories\n", flagWorkspace, total)
			for kind, n := range byKind {
				fmt.Printf("  %-18s %d\n", kind, n)
			}
			return nil
		},
	}
	c.Flags().BoolVar(&repair, "repair", false, "Reset out-of-range confidence values")
	return c
}

func newReplCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "repl",
		Short:   "Interactive command session",
		Example: "  quill repl",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildServices()
			if err != nil {
				return err
			}
			defer svc.Close()
			defer func() { _ = svc.processor.WaitBackground(context.Background()) }()

			rl, err := readline.New("quill> ")
			if err != nil {
				return err
			}
			defer rl.Close()

			conversationID := fmt.Sprintf("repl-%d", time.Now().Unix())
			for {
				line, err := rl.Readline()
				if err != nil {
					return nil
				}
				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				if line == "exit" || line == "quit" {
					return nil
				}

				resp, err := svc.processor.ProcessCommand(context.Background(), agent.CommandRequest{
					CommandID:      "cmd-" + uuid.NewString(),
					WorkspaceID:    flagWorkspace,
					UserID:         localUserID(),
					ConversationID: conversationID,
					Text:           line,
				})
				if err != nil {
					fmt.Printf("error: %v\n", err)
					continue
				}
				printResponse(resp)
			}
		},
	}
}
