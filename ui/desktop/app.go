// Package desktop is the windowed front end. Like the terminal client it only
// drives the chat core: widgets read store snapshots and every action maps onto
// a store or controller operation.
package desktop

import (
	"context"
	"fmt"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"

	"lightchat/chat"
	"lightchat/utils"
)

// Options configures the window.
type Options struct {
	// DefaultModel is used for new conversations.
	DefaultModel string
	// Models fills the model picker. The conversation's own model is always listed.
	Models []string
	// Theme is light, dark or system.
	Theme        string
	WindowWidth  int
	WindowHeight int
}

// App represents the main application window
type App struct {
	fyneApp    fyne.App
	window     fyne.Window
	store      chat.ConversationStore
	controller *chat.Controller
	logger     *utils.Logger
	opts       Options

	sidebar  *Sidebar
	chatView *ChatView

	ctx    context.Context
	cancel context.CancelFunc

	// live is set while the event loop runs; background refreshes need it.
	live bool
}

// New builds the window on fyneApp.
func New(fyneApp fyne.App, store chat.ConversationStore, controller *chat.Controller, opts Options, logger *utils.Logger) *App {
	if logger == nil {
		logger = utils.NewDiscardLogger()
	}
	window := fyneApp.NewWindow("lightchat")
	if opts.WindowWidth > 0 && opts.WindowHeight > 0 {
		window.Resize(fyne.NewSize(float32(opts.WindowWidth), float32(opts.WindowHeight)))
	}
	if t := newTheme(opts.Theme); t != nil {
		fyneApp.Settings().SetTheme(t)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		fyneApp:    fyneApp,
		window:     window,
		store:      store,
		controller: controller,
		logger:     logger,
		opts:       opts,
		ctx:        ctx,
		cancel:     cancel,
	}

	a.sidebar = newSidebar(a)
	a.chatView = newChatView(a)
	split := container.NewHSplit(a.sidebar.content, a.chatView.content)
	split.SetOffset(0.25)
	window.SetContent(split)

	a.refresh()
	return a
}

// Run shows the window and blocks until it is closed. Replies still streaming
// when the window closes are cancelled.
func (a *App) Run() {
	a.live = true
	stop := a.watch()
	defer stop()
	defer a.cancel()

	a.logger.Info("Desktop window opened")
	a.window.ShowAndRun()
}

// watch re-renders on every store change until the returned func is called.
func (a *App) watch() func() {
	updates, unsubscribe := a.store.Subscribe()
	done := make(chan struct{})
	utils.SafeGo(a.logger, "desktop store watcher", func() {
		for {
			select {
			case <-done:
				return
			case _, ok := <-updates:
				if !ok {
					return
				}
				fyne.Do(a.refresh)
			}
		}
	})
	return func() {
		close(done)
		unsubscribe()
	}
}

// follow refreshes once x ends, so a failure that never touched the store is
// still reported.
func (a *App) follow(x *chat.Exchange) {
	if !a.live {
		return
	}
	utils.SafeGo(a.logger, "desktop exchange follower", func() {
		<-x.Done()
		fyne.Do(a.refresh)
	})
}

// refresh renders the latest snapshot. It must run on the UI thread.
func (a *App) refresh() {
	snap := a.store.Snapshot()
	a.sidebar.update(snap)
	a.chatView.update(snap)

	if conv, ok := snap.Current(); ok {
		a.window.SetTitle(fmt.Sprintf("%s - lightchat", conv.Title))
	} else {
		a.window.SetTitle("lightchat")
	}
}

// current returns the selected conversation, creating one when none is selected.
func (a *App) current() chat.Conversation {
	if conv, ok := a.store.Snapshot().Current(); ok {
		return conv
	}
	return a.store.Create(a.opts.DefaultModel)
}
