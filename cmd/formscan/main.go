// Command formscan extracts permit form fields from OCR text or images.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/formscan/permit-ocr-service/internal/ai"
	"github.com/formscan/permit-ocr-service/internal/extract"
	"github.com/formscan/permit-ocr-service/internal/models"
	"github.com/formscan/permit-ocr-service/internal/ocr"
	"github.com/formscan/permit-ocr-service/internal/pipeline"
	"github.com/formscan/permit-ocr-service/internal/schema"
)

type options struct {
	configPath string
	schemaPath string
	mode       string
	provider   string
	language   string
	verbose    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "formscan",
		Short:        "Extract structured fields from scanned permit forms",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file (env overrides still apply)")
	root.PersistentFlags().StringVar(&opts.schemaPath, "schema", "", "YAML field schema (default: built-in permit schema)")
	root.PersistentFlags().StringVarP(&opts.mode, "mode", "m", "", "pattern, model or model_with_fallback")
	root.PersistentFlags().StringVarP(&opts.provider, "provider", "p", "", "AI provider: openai, gemini or ollama")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log pipeline states to stderr")

	root.AddCommand(newExtractCmd(opts), newImageCmd(opts))
	return root
}

func newExtractCmd(opts *options) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract fields from OCR text (a file or stdin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			text, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("failed to read text: %w", err)
			}

			pipe, cleanup, err := buildPipeline(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := pipe.Run(cmd.Context(), string(text), pipeline.Request{})
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "text file to read (default: stdin)")
	return cmd
}

func newImageCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image <path>",
		Short: "Run OCR on an image and extract fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pipe, cleanup, err := buildPipeline(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := pipe.ProcessImage(cmd.Context(), args[0], pipeline.Request{Language: opts.language})
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&opts.language, "lang", "l", "", "tesseract language hint (default from config)")
	return cmd
}

func buildPipeline(ctx context.Context, opts *options, stderr io.Writer) (*pipeline.Pipeline, func(), error) {
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	config, err := models.LoadConfig(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	if opts.mode != "" {
		config.Pipeline.Mode = opts.mode
	}
	if opts.provider != "" {
		config.AI.DefaultProvider = opts.provider
		if opts.mode == "" && config.Pipeline.Mode == "pattern" {
			config.Pipeline.Mode = string(pipeline.ModeModelWithFallback)
		}
	}
	if opts.schemaPath != "" {
		config.SchemaFile = opts.schemaPath
	}

	fields, err := schema.Load(config.SchemaFile)
	if err != nil {
		return nil, nil, err
	}
	pipeCfg, err := pipeline.ConfigFrom(config.Pipeline)
	if err != nil {
		return nil, nil, err
	}

	pipeOpts := []pipeline.Option{
		pipeline.WithOCR(ocr.NewTesseractOCR(config.OCR)),
		pipeline.WithLogger(logger),
	}
	var provider ai.Provider
	if config.AI.DefaultProvider != "" {
		provider, err = ai.NewProvider(ctx, config.AI, config.AI.DefaultProvider, "")
		if err != nil {
			return nil, nil, err
		}
		pipeOpts = append(pipeOpts, pipeline.WithModel(extract.NewModel(provider, ai.Options{
			Temperature: config.AI.Temperature,
			MaxTokens:   config.AI.MaxTokens,
		})))
	}
	cleanup := func() {
		if provider != nil {
			provider.Close()
		}
	}

	pipe, err := pipeline.New(fields, pipeCfg, pipeOpts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return pipe, cleanup, nil
}

func printResult(w io.Writer, res *pipeline.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(res)
}
