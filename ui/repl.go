// Package ui is the interactive terminal front end. It only drives the chat
// core: every command maps onto a store or controller operation.
package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"

	"github.com/peterh/liner"

	"lightchat/chat"
	"lightchat/db"
	"lightchat/render"
	"lightchat/utils"
)

// Options configures a REPL.
type Options struct {
	// HistoryFile keeps line-editor history between sessions. Empty disables it.
	HistoryFile string
	// DefaultModel is used for new conversations when none exist yet.
	DefaultModel string
	// ExportDir is where exports without an explicit path go. Empty means the
	// user's default export directory.
	ExportDir string
	// Stats, when set, backs the stats and vacuum commands.
	Stats interface {
		GetStats() (*db.DBStats, error)
		Vacuum() error
	}
}

// REPL is a line-oriented chat client.
type REPL struct {
	store      chat.ConversationStore
	controller *chat.Controller
	renderer   render.Renderer
	logger     *utils.Logger
	opts       Options
	out        io.Writer

	pending []chat.Attachment

	mu        sync.Mutex
	streaming *chat.Exchange
}

// New creates a REPL writing to stdout. renderer may be nil for plain output.
func New(store chat.ConversationStore, controller *chat.Controller, renderer render.Renderer, opts Options, logger *utils.Logger) *REPL {
	if renderer == nil {
		renderer = render.Plain{}
	}
	return &REPL{
		store:      store,
		controller: controller,
		renderer:   renderer,
		logger:     logger,
		opts:       opts,
		out:        os.Stdout,
	}
}

// Run reads commands until quit, EOF or ctx ends. Ctrl-C at the prompt exits;
// Ctrl-C while a reply streams cancels the reply.
func (r *REPL) Run(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completeCommand)

	r.loadHistory(line)
	defer r.saveHistory(line)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			r.cancelStreaming()
		}
	}()

	fmt.Fprintln(r.out, "lightchat - type /help for commands")
	for {
		if ctx.Err() != nil {
			return nil
		}

		input, err := line.Prompt(r.prompt())
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out)
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}
		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}

		quit, err := r.execute(ctx, input)
		if err != nil {
			fmt.Fprintf(r.out, "[error] %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

func (r *REPL) prompt() string {
	conv, ok := r.store.Snapshot().Current()
	if !ok {
		return "> "
	}
	return fmt.Sprintf("%s (%s)> ", truncate(conv.Title, 24), conv.Model)
}

func (r *REPL) loadHistory(line *liner.State) {
	if r.opts.HistoryFile == "" {
		return
	}
	if f, err := os.Open(r.opts.HistoryFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
}

func (r *REPL) saveHistory(line *liner.State) {
	if r.opts.HistoryFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(r.opts.HistoryFile), 0755); err != nil {
		r.logger.Warn("Failed to create history directory: %v", err)
		return
	}
	f, err := os.OpenFile(r.opts.HistoryFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		r.logger.Warn("Failed to save history: %v", err)
		return
	}
	defer f.Close()
	if _, err := line.WriteHistory(f); err != nil {
		r.logger.Warn("Failed to save history: %v", err)
	}
}

func (r *REPL) cancelStreaming() bool {
	r.mu.Lock()
	x := r.streaming
	r.mu.Unlock()
	if x == nil || x.State().Terminal() {
		return false
	}
	return r.controller.Cancel(x.ConversationID)
}

// follow prints x's reply as it grows and reports how it ended.
func (r *REPL) follow(ctx context.Context, x *chat.Exchange) {
	r.mu.Lock()
	r.streaming = x
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.streaming = nil
		r.mu.Unlock()
	}()

	updates, unsubscribe := r.store.Subscribe()
	defer unsubscribe()

	printed := 0
	flush := func() {
		content := x.Content()
		if len(content) > printed {
			fmt.Fprint(r.out, content[printed:])
			printed = len(content)
		}
	}

	ctxDone := ctx.Done()
	for {
		select {
		case <-updates:
			flush()
		case <-ctxDone:
			x.Cancel()
			ctxDone = nil
		case <-x.Done():
			flush()
			fmt.Fprintln(r.out)
			switch x.State() {
			case chat.StateCancelled:
				fmt.Fprintln(r.out, "[stopped]")
			case chat.StateFailed:
				fmt.Fprintf(r.out, "[failed] %v\n", x.Err())
			}
			return
		}
	}
}

// current returns the selected conversation, creating one when the store is empty.
func (r *REPL) current() chat.Conversation {
	snap := r.store.Snapshot()
	if conv, ok := snap.Current(); ok {
		return conv
	}
	return r.store.Create(r.opts.DefaultModel)
}

func (r *REPL) send(ctx context.Context, text string) error {
	conv := r.current()
	x, err := r.controller.Send(ctx, conv.ID, text, r.pending, r.opts.DefaultModel)
	if err != nil {
		return err
	}
	r.pending = nil
	if x == nil {
		return nil
	}
	r.follow(ctx, x)
	return nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
