package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/xhad/docqa/internal/types"
	cfgPkg "github.com/xhad/docqa/pkg/config"
	"github.com/xhad/docqa/pkg/llm"
	"github.com/xhad/docqa/pkg/logger"
	"github.com/xhad/docqa/pkg/pipeline"
	"github.com/xhad/docqa/pkg/store"
	"github.com/xhad/docqa/pkg/uploads"
)

type rootFlags struct {
	configPath string
	logLevel   string
	logJSON    bool
	envFile    string
}

func main() {
	var flags rootFlags

	root := &cobra.Command{
		Use:           "docqa",
		Short:         "Ask questions about your PDF and DOCX documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&flags.logJSON, "log-json", false, "Write logs as JSON")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "Environment file loaded before the config")

	root.AddCommand(serveCMD(&flags), chatCMD(&flags))

	if err := root.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

// loadConfig reads the env file, the config file and the flag overrides,
// then validates the result and installs the default logger.
func loadConfig(flags *rootFlags) (*cfgPkg.Config, logger.Logger, error) {
	if flags.envFile != "" {
		if err := godotenv.Load(flags.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("failed to load %s: %w", flags.envFile, err)
		}
	}

	cfg, err := cfgPkg.LoadConfig(flags.configPath)
	if err != nil {
		return nil, nil, err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.logJSON {
		cfg.Log.JSON = true
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, e.Error())
		}
		return nil, nil, fmt.Errorf("invalid configuration:\n  %s", strings.Join(msgs, "\n  "))
	}

	logCfg := cfg.LoggerConfig(nil)
	logger.Init(logCfg)
	return cfg, logger.NewLogger(logCfg), nil
}

type app struct {
	pipeline *pipeline.Pipeline
	index    types.Index
}

func (a *app) Close() {
	a.index.Close()
}

func newApp(ctx context.Context, cfg *cfgPkg.Config, log logger.Logger) (*app, error) {
	embedder, err := llm.NewEmbedderWithConfig(ctx, cfg.EmbedderConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	chatEngine, err := llm.NewWithConfig(ctx, cfg.ChatConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	up, err := uploads.NewOS(cfg.Server.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare upload directory: %w", err)
	}

	index, err := store.New(ctx, cfg.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}

	p, err := pipeline.New(pipeline.Config{
		Processor: cfg.ProcessorConfig(),
		Embedder:  embedder,
		Index:     index,
		Generator: chatEngine,
		Uploads:   up,
		TopK:      cfg.Retrieval.TopK,
	})
	if err != nil {
		index.Close()
		return nil, err
	}

	log.Info("Pipeline ready",
		"llm", cfg.LLM.Provider+"/"+cfg.LLM.Model,
		"embedder", embedder.Provider(),
		"index", cfg.Index.Provider,
		"uploads", up.Dir())
	return &app{pipeline: p, index: index}, nil
}
