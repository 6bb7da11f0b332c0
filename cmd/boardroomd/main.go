// Command boardroomd is the Boardroom Journal CLI: a local-first career
// governance engine that runs Quick/Setup/Quarterly sessions, a daily
// extraction pipeline, and the weekly brief on a SQLite-backed store.
// Grounded on cmd/factory/main.go (stdlib flag parsing,
// slog logging, SIGINT/SIGTERM-driven graceful shutdown).
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/boardroomjournal/core/ai"
	"github.com/boardroomjournal/core/ai/provider"
	"github.com/boardroomjournal/core/background"
	"github.com/boardroomjournal/core/domain"
	"github.com/boardroomjournal/core/export"
	"github.com/boardroomjournal/core/fsm"
	"github.com/boardroomjournal/core/internal/db"
	"github.com/boardroomjournal/core/ports"
	"github.com/boardroomjournal/core/portfolio"
	"github.com/boardroomjournal/core/workflow"
)

var (
	version   = "dev"
	gitCommit = "unknown"
)

// systemClock backs ports.Clock with the real wall clock.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// uuidRandom backs ports.RandomSource with github.com/google/uuid.
type uuidRandom struct{}

func (uuidRandom) NewID() string    { return uuid.NewString() }
func (uuidRandom) Float64() float64 { return rand.Float64() }

func main() {
	var (
		dbPath      = flag.String("db", "boardroom.db", "SQLite database path")
		showVersion = flag.Bool("version", false, "Show version")
		daemon      = flag.Bool("daemon", false, "Run the background scheduler (weekly brief, bet sweep, trigger check) until interrupted")
		session     = flag.String("session", "", "Start an interactive session: quick, setup, or quarterly")
		exportPath  = flag.String("export-json", "", "Write a full JSON backup to the given path and exit")
		exportMD    = flag.String("export-md", "", "Write a Markdown digest to the given path and exit")
		exportHTML  = flag.String("export-html", "", "Write an HTML digest to the given path and exit")
		daily       = flag.Bool("daily", false, "Read a transcript from stdin and extract a daily entry")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("boardroomd %s (commit: %s)\n", version, gitCommit)
		os.Exit(0)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	clock := systemClock{}
	store, err := db.NewStore(*dbPath, clock)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	switch {
	case *exportPath != "":
		runExportJSON(ctx, store, *exportPath, logger)
	case *exportMD != "":
		runExportMarkdown(ctx, store, *exportMD, logger)
	case *exportHTML != "":
		runExportHTML(ctx, store, *exportHTML, logger)
	case *daemon:
		runDaemon(ctx, store, clock, logger)
	case *daily:
		runDailyExtraction(ctx, store, clock, logger)
	case *session != "":
		runSession(ctx, store, clock, *session, logger)
	default:
		flag.Usage()
	}
}

func buildRandom() uuidRandom { return uuidRandom{} }

func buildAIAdapter(store *db.Store, clock ports.Clock) *ai.Adapter {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	llm := provider.NewAnthropic(apiKey)
	return ai.NewAdapter(llm, clock, buildRandom(), store)
}

func runExportJSON(ctx context.Context, store *db.Store, path string, logger *slog.Logger) {
	backup, err := export.Build(ctx, store, time.Now().UTC())
	if err != nil {
		logger.Error("export failed", "error", err)
		os.Exit(1)
	}
	f, err := os.Create(path)
	if err != nil {
		logger.Error("failed to create export file", "path", path, "error", err)
		os.Exit(1)
	}
	defer f.Close()
	if err := export.Write(f, backup); err != nil {
		logger.Error("failed to write export", "error", err)
		os.Exit(1)
	}
	logger.Info("wrote JSON backup", "path", path)
}

func runExportMarkdown(ctx context.Context, store *db.Store, path string, logger *slog.Logger) {
	backup, err := export.Build(ctx, store, time.Now().UTC())
	if err != nil {
		logger.Error("export failed", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(path, []byte(export.Markdown(backup)), 0o644); err != nil {
		logger.Error("failed to write markdown digest", "error", err)
		os.Exit(1)
	}
	logger.Info("wrote Markdown digest", "path", path)
}

func runExportHTML(ctx context.Context, store *db.Store, path string, logger *slog.Logger) {
	backup, err := export.Build(ctx, store, time.Now().UTC())
	if err != nil {
		logger.Error("export failed", "error", err)
		os.Exit(1)
	}
	html, err := export.HTML(backup)
	if err != nil {
		logger.Error("failed to render HTML digest", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		logger.Error("failed to write HTML digest", "error", err)
		os.Exit(1)
	}
	logger.Info("wrote HTML digest", "path", path)
}

func runDaemon(ctx context.Context, store *db.Store, clock ports.Clock, logger *slog.Logger) {
	adapter := buildAIAdapter(store, clock)
	weekly := workflow.NewWeeklyBriefRunner(store, store, store, adapter)
	pm := portfolio.NewManager(store, clock, buildRandom())

	mgr := background.NewManager(weekly, pm, store, logger)
	mgr.Start(ctx)
	logger.Info("background scheduler started", "db", "running until interrupted")

	<-ctx.Done()
	mgr.Stop()
}

func runDailyExtraction(ctx context.Context, store *db.Store, clock ports.Clock, logger *slog.Logger) {
	adapter := buildAIAdapter(store, clock)
	extractor := workflow.NewDailyExtractor(store, adapter)

	fmt.Println("Paste today's transcript, then press Ctrl+D:")
	var b strings.Builder
	reader := bufio.NewReader(os.Stdin)
	for {
		line, err := reader.ReadString('\n')
		b.WriteString(line)
		if err != nil {
			break
		}
	}

	entry := domain.DailyEntry{
		RawTranscript:    b.String(),
		EditedTranscript: b.String(),
		EntryType:        domain.EntryText,
		WordCount:        len(strings.Fields(b.String())),
		CreatedAtUTC:     clock.Now(),
		TimezoneIANA:     "UTC",
	}

	result, err := extractor.Extract(ctx, entry)
	if err != nil {
		logger.Error("extraction failed", "error", err)
		os.Exit(1)
	}
	logger.Info("daily entry captured", "id", result.ID, "word_count", result.WordCount)
}

func runSession(ctx context.Context, store *db.Store, clock ports.Clock, which string, logger *slog.Logger) {
	adapter := buildAIAdapter(store, clock)
	pm := portfolio.NewManager(store, clock, buildRandom())

	var specs []fsm.WorkflowSpec
	switch which {
	case "quick":
		specs = append(specs, workflow.NewQuickSpec(pm, adapter, store, clock))
	case "setup":
		specs = append(specs, workflow.NewSetupSpec(pm, adapter))
	case "quarterly":
		specs = append(specs, workflow.NewQuarterlySpec(pm, store, store, store, adapter, clock))
	default:
		logger.Error("unknown session type", "session", which)
		os.Exit(1)
	}

	runtime := fsm.NewRuntime(store, clock, buildRandom(), specs...)
	sessionType := domain.SessionType(which)

	existing, prompt, resumed, err := runtime.Resume(ctx)
	if err != nil {
		logger.Error("failed to check for an in-progress session", "error", err)
		os.Exit(1)
	}
	if !resumed {
		existing, prompt, err = runtime.Start(ctx, sessionType, "direct")
		if err != nil {
			logger.Error("failed to start session", "error", err)
			os.Exit(1)
		}
	}

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Println()
		fmt.Println(prompt.Question)
		fmt.Print("> ")
		answer, err := reader.ReadString('\n')
		if err != nil {
			logger.Error("failed to read input", "error", err)
			return
		}
		answer = trimNewline(answer)

		result, after, err := runtime.Submit(ctx, existing, existing.Epoch, answer, false)
		if err != nil {
			logger.Error("submission failed", "error", err)
			return
		}
		existing = after

		switch r := result.(type) {
		case fsm.AwaitingInput:
			prompt = r.Next
		case fsm.RequiresClarification:
			fmt.Println()
			fmt.Println("Needs clarification:", r.Reason)
		case fsm.Aborted:
			fmt.Println()
			fmt.Println("Session aborted:", r.Reason)
			return
		case fsm.Completed:
			fmt.Println()
			fmt.Println(r.OutputMarkdown)
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
