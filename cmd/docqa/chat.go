package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/xhad/docqa/pkg/pipeline"
)

func chatCMD(flags *rootFlags) *cobra.Command {
	var stream bool

	chat := &cobra.Command{
		Use:   "chat [files...]",
		Short: "Ingest documents and ask questions in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("stream") {
				cfg.UI.Streaming = stream
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := ingestFiles(ctx, a.pipeline, args); err != nil {
				return err
			}
			return chatLoop(ctx, a.pipeline, cfg.UI.Streaming)
		},
	}
	chat.Flags().BoolVar(&stream, "stream", true, "Print answers as they are generated")

	return chat
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionClearOnFinish(),
	)
}

func ingestFiles(ctx context.Context, p *pipeline.Pipeline, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	color.Blue("\nIngesting %d document(s)\n", len(paths))
	bar := getProgressBar(len(paths), "📄 Processing documents...")

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		res, err := p.Ingest(ctx, pipeline.Upload{Filename: filepath.Base(path), Data: data})
		_ = bar.Add(1)
		if err != nil {
			color.Red("\n✗ %s: %v", path, err)
			continue
		}
		color.Green("\n✓ %s: %d chunks (size %d, overlap %d)", res.Filename, res.Chunks, res.ChunkSize, res.Overlap)
	}
	_ = bar.Finish()
	return nil
}

func chatLoop(ctx context.Context, p *pipeline.Pipeline, streaming bool) error {
	color.Cyan("\nChat with your documents (type 'clear' to forget them, 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			return scanner.Err()
		}

		query := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(query) {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "clear":
			if err := p.Clear(ctx); err != nil {
				color.Red("Error clearing documents: %v", err)
				continue
			}
			color.Green("✓ Documents cleared")
			continue
		}

		if streaming {
			fmt.Print("\n")
			assistantPrompt("Assistant: ")
			streamed := false
			answer, err := p.QueryStream(ctx, query, func(chunk string) error {
				streamed = true
				assistantPrompt("%s", chunk)
				return nil
			})
			if err != nil {
				color.Red("\nError: %v", err)
				continue
			}
			if !streamed {
				assistantPrompt("%s", answer)
			}
			fmt.Print("\n")
			continue
		}

		spinner := getSpinner("🤖 Generating response...")
		answer, err := p.Query(ctx, query)
		_ = spinner.Finish()
		if err != nil {
			color.Red("Error: %v", err)
			continue
		}
		assistantPrompt("\nAssistant: %s\n", answer)
	}
}
