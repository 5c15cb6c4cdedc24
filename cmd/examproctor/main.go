package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/formedic/examproctor/internal/draft"
	"github.com/formedic/examproctor/internal/exam"
	"github.com/formedic/examproctor/internal/handler"
	appI18n "github.com/formedic/examproctor/internal/i18n"
	"github.com/formedic/examproctor/internal/llm"
	"github.com/formedic/examproctor/internal/model"
	"github.com/formedic/examproctor/internal/portal"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "examproctor",
		Short: "Exam session sidecar for the training portal",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `examproctor --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the exam session HTTP service",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "examproctor.db", "SQLite database path for drafts and receipts")
	f.String("portal-url", "http://localhost:3000/api", "Training portal API base URL")
	f.String("portal-token", "", "Bearer token for portal API calls")
	f.StringP("lang", "l", "en", "Default message language (en, fr)")
	f.Duration("session-ttl", draft.DefaultTTL, "Draft session lifetime")
	f.Duration("sweep-interval", time.Minute, "Expiry sweep interval")
	f.Bool("llm-suggest", false, "Enable LLM score suggestions for free-text answers")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export submit receipts as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "examproctor.db", "SQLite database path for drafts and receipts")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("EXAMPROCTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("examproctor")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/examproctor")
	v.AddConfigPath("/etc/examproctor")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	store, err := draft.New(v.GetString("db"), draft.WithTTL(v.GetDuration("session-ttl")))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	portalClient := portal.NewHTTPClient(v.GetString("portal-url"), v.GetString("portal-token"))

	var llmClient *llm.Client
	if v.GetBool("llm-suggest") {
		llmClient = llm.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"))
		slog.Info("LLM score suggestions enabled", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
	}

	registry := exam.NewRegistry(portalClient, store)
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go registry.Run(ctx, v.GetDuration("sweep-interval"))

	h := handler.New(registry, store, portalClient, llmClient)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"portal_url", v.GetString("portal-url"),
		"lang", lang,
		"session_ttl", v.GetDuration("session-ttl"),
		"sweep_interval", v.GetDuration("sweep-interval"),
		"llm_suggest", v.GetBool("llm-suggest"),
	)
	return http.ListenAndServe(addr, r)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	store, err := draft.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	receipts, err := store.ListReceipts()
	if err != nil {
		return fmt.Errorf("list receipts: %w", err)
	}

	export := model.ReceiptExport{
		ExportedAt: time.Now(),
		Count:      len(receipts),
		Receipts:   receipts,
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}
