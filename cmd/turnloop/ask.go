package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/HendryAvila/turnloop/internal/pipeline"
	"github.com/HendryAvila/turnloop/internal/progress"
	appserver "github.com/HendryAvila/turnloop/internal/server"
	"github.com/HendryAvila/turnloop/internal/turn"
)

var (
	askUser     string
	askMode     string
	askResume   string
	askJSON     bool
	askProgress bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Run one turn in the terminal",
	Long: `Runs one turn and prints the answer. Progress goes to stderr.

Interrupting a turn (Ctrl-C) keeps its progress; continue it with
  turnloop ask --resume <trace id>`,
	Args: func(cmd *cobra.Command, args []string) error {
		if askResume == "" && len(args) != 1 {
			return errors.New("expects one question, or --resume")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := turn.Mode(askMode)
		if err := turn.ValidateMode(mode); err != nil {
			return err
		}
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		app, err := appserver.New(cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = app.Close() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sink := progress.Discard
		if askProgress {
			sink = newPrinter(os.Stderr)
		}

		var rec *turn.Record
		if askResume != "" {
			rec, err = app.Runner.Resume(ctx, askResume, sink)
		} else {
			rec, err = app.Runner.Run(ctx, pipeline.Request{UserID: askUser, Query: args[0], Mode: mode}, sink)
		}
		if errors.Is(err, context.Canceled) && rec != nil {
			color.New(color.FgYellow).Fprintf(os.Stderr, "\nInterrupted. Continue with: turnloop ask --resume %s\n", rec.TraceID)
			return nil
		}
		if err != nil {
			return err
		}
		return printOutcome(os.Stdout, rec, askJSON)
	},
}

func init() {
	user := os.Getenv("USER")
	if user == "" {
		user = "local"
	}
	askCmd.Flags().StringVarP(&askUser, "user", "u", user, "user id the turn belongs to")
	askCmd.Flags().StringVarP(&askMode, "mode", "m", string(turn.ModeReadOnly), "read_only or read_write")
	askCmd.Flags().StringVar(&askResume, "resume", "", "continue an interrupted turn by trace id")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the outcome as JSON")
	askCmd.Flags().BoolVar(&askProgress, "progress", true, "print progress to stderr")
	rootCmd.AddCommand(askCmd)
}

// printer writes progress events as colored lines. Tool events arrive
// from concurrent goal groups, hence the lock.
type printer struct {
	mu    sync.Mutex
	w     io.Writer
	stage *color.Color
	tool  *color.Color
	fail  *color.Color
}

func newPrinter(w io.Writer) *printer {
	return &printer{
		w:     w,
		stage: color.New(color.FgCyan),
		tool:  color.New(color.Faint),
		fail:  color.New(color.FgRed),
	}
}

// Emit implements progress.Sink.
func (p *printer) Emit(e progress.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch e.Kind {
	case progress.KindStageStarted:
		p.stage.Fprintf(p.w, "→ %s\n", e.Stage)
	case progress.KindStageCompleted:
		if e.Status == "error" {
			p.fail.Fprintf(p.w, "✗ %s: %v\n", e.Stage, e.Detail["error"])
		}
	case progress.KindToolStarted:
		p.tool.Fprintf(p.w, "  ⚙ %v (goal %v, attempt %v)\n", e.Detail["tool"], e.Detail["goal"], e.Detail["attempt"])
	case progress.KindToolFinished:
		if e.Status != "ok" {
			p.fail.Fprintf(p.w, "  ✗ %v: %s\n", e.Detail["tool"], e.Status)
		}
	}
}

func printOutcome(w io.Writer, rec *turn.Record, asJSON bool) error {
	if rec.Outcome == nil {
		return fmt.Errorf("turn %s ended without an outcome", rec.TraceID)
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"trace_id": rec.TraceID,
			"turn":     rec.Number,
			"outcome":  rec.Outcome,
		})
	}

	switch rec.Outcome.Status {
	case turn.OutcomeApproved:
		fmt.Fprintln(w, rec.Outcome.Answer)
	case turn.OutcomeClarify:
		color.New(color.FgYellow).Fprintln(w, rec.Outcome.Question)
	default:
		color.New(color.FgRed).Fprintln(w, rec.Outcome.Error)
	}
	return nil
}
