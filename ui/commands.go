package ui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"lightchat/chat"
	"lightchat/export"
	"lightchat/render"
	"lightchat/utils"
)

var errNoConversation = errors.New("no conversation selected")

type command struct {
	usage string
	help  string
	run   func(r *REPL, ctx context.Context, args string) (quit bool, err error)
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"new":    {"/new [model]", "start a conversation", (*REPL).cmdNew},
		"list":   {"/list", "list conversations", (*REPL).cmdList},
		"select": {"/select <n|id>", "switch conversation", (*REPL).cmdSelect},
		"rename": {"/rename <title>", "rename the current conversation", (*REPL).cmdRename},
		"delete": {"/delete [n|id]", "delete a conversation", (*REPL).cmdDelete},
		"model":  {"/model <name>", "set the model of the current conversation", (*REPL).cmdModel},
		"system": {"/system [prompt]", "set or clear the conversation system prompt", (*REPL).cmdSystem},
		"global": {"/global [prompt]", "set or clear the global system prompt", (*REPL).cmdGlobal},
		"attach": {"/attach <path>", "attach a file to the next message", (*REPL).cmdAttach},
		"detach": {"/detach [n]", "drop one or all pending attachments", (*REPL).cmdDetach},
		"send":   {"/send <text>", "send a message (plain input does the same)", (*REPL).cmdSend},
		"regen":  {"/regen [n]", "regenerate the reply at message n", (*REPL).cmdRegen},
		"del":    {"/del <n>", "delete message n (and its paired turn)", (*REPL).cmdDel},
		"show":   {"/show", "print the current conversation", (*REPL).cmdShow},
		"export": {"/export <json|markdown|html|all> [path]", "export conversations", (*REPL).cmdExport},
		"import": {"/import [all] <path>", "import a JSON export", (*REPL).cmdImport},
		"stats":  {"/stats", "show storage statistics", (*REPL).cmdStats},
		"vacuum": {"/vacuum", "compact the database file", (*REPL).cmdVacuum},
		"help":   {"/help", "show this help", (*REPL).cmdHelp},
		"quit":   {"/quit", "exit", (*REPL).cmdQuit},
	}
}

// parseCommand splits "/name args" input. Anything not starting with a slash
// is a message and reports ok false.
func parseCommand(input string) (name, args string, ok bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return "", input, false
	}
	name, args, _ = strings.Cut(input[1:], " ")
	return strings.ToLower(name), strings.TrimSpace(args), true
}

func completeCommand(line string) []string {
	if !strings.HasPrefix(line, "/") || strings.Contains(line, " ") {
		return nil
	}
	var out []string
	for name := range commands {
		if strings.HasPrefix("/"+name, line) {
			out = append(out, "/"+name)
		}
	}
	sort.Strings(out)
	return out
}

// execute runs one line of input.
func (r *REPL) execute(ctx context.Context, input string) (bool, error) {
	name, args, ok := parseCommand(input)
	if !ok {
		if args == "" && len(r.pending) == 0 {
			return false, nil
		}
		return false, r.send(ctx, args)
	}
	switch name {
	case "exit", "q":
		name = "quit"
	case "?":
		name = "help"
	}
	cmd, found := commands[name]
	if !found {
		return false, fmt.Errorf("unknown command /%s, try /help", name)
	}
	return cmd.run(r, ctx, args)
}

func (r *REPL) selected() (chat.Conversation, error) {
	conv, ok := r.store.Snapshot().Current()
	if !ok {
		return chat.Conversation{}, errNoConversation
	}
	return conv, nil
}

// resolve finds a conversation by 1-based list position or id.
func (r *REPL) resolve(ref string) (chat.Conversation, error) {
	snap := r.store.Snapshot()
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(snap.Conversations) {
			return chat.Conversation{}, fmt.Errorf("no conversation #%d", n)
		}
		return snap.Conversations[n-1], nil
	}
	if conv, _, ok := snap.Find(ref); ok {
		return conv, nil
	}
	return chat.Conversation{}, fmt.Errorf("no conversation %q", ref)
}

// messageIndex parses a 1-based message number into an index.
func messageIndex(arg string, count int) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > count {
		return 0, fmt.Errorf("invalid message number %q", arg)
	}
	return n - 1, nil
}

func (r *REPL) cmdNew(_ context.Context, args string) (bool, error) {
	model := args
	if model == "" {
		model = r.opts.DefaultModel
	}
	conv := r.store.Create(model)
	fmt.Fprintf(r.out, "Started %s (%s)\n", conv.Title, conv.Model)
	return false, nil
}

func (r *REPL) cmdList(_ context.Context, _ string) (bool, error) {
	snap := r.store.Snapshot()
	if len(snap.Conversations) == 0 {
		fmt.Fprintln(r.out, "No conversations")
		return false, nil
	}
	for i, conv := range snap.Conversations {
		marker := " "
		if conv.ID == snap.CurrentID {
			marker = "*"
		}
		busy := ""
		if r.controller.Busy(conv.ID) {
			busy = " [streaming]"
		}
		fmt.Fprintf(r.out, "%s %2d. %s (%s, %d messages)%s\n", marker, i+1, conv.Title, conv.Model, len(conv.Messages), busy)
	}
	return false, nil
}

func (r *REPL) cmdSelect(_ context.Context, args string) (bool, error) {
	if args == "" {
		return false, errors.New("usage: /select <n|id>")
	}
	conv, err := r.resolve(args)
	if err != nil {
		return false, err
	}
	r.store.Select(conv.ID)
	fmt.Fprintf(r.out, "Selected %s\n", conv.Title)
	return false, nil
}

func (r *REPL) cmdRename(_ context.Context, args string) (bool, error) {
	conv, err := r.selected()
	if err != nil {
		return false, err
	}
	if args == "" {
		return false, errors.New("usage: /rename <title>")
	}
	r.store.Rename(conv.ID, args)
	return false, nil
}

func (r *REPL) cmdDelete(_ context.Context, args string) (bool, error) {
	var conv chat.Conversation
	var err error
	if args == "" {
		conv, err = r.selected()
	} else {
		conv, err = r.resolve(args)
	}
	if err != nil {
		return false, err
	}
	r.controller.Cancel(conv.ID)
	r.store.Delete(conv.ID)
	fmt.Fprintf(r.out, "Deleted %s\n", conv.Title)
	return false, nil
}

func (r *REPL) cmdModel(_ context.Context, args string) (bool, error) {
	conv, err := r.selected()
	if err != nil {
		return false, err
	}
	if args == "" {
		fmt.Fprintln(r.out, conv.Model)
		return false, nil
	}
	r.store.SetModel(conv.ID, args)
	return false, nil
}

func (r *REPL) cmdSystem(_ context.Context, args string) (bool, error) {
	conv, err := r.selected()
	if err != nil {
		return false, err
	}
	r.store.SetSystemPrompt(conv.ID, args)
	return false, nil
}

func (r *REPL) cmdGlobal(_ context.Context, args string) (bool, error) {
	r.store.SetGlobalSystemPrompt(args)
	return false, nil
}

func (r *REPL) cmdAttach(_ context.Context, args string) (bool, error) {
	if args == "" {
		return false, errors.New("usage: /attach <path>")
	}
	info, err := os.Stat(args)
	if err != nil {
		return false, fmt.Errorf("cannot attach %s: %w", args, err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("cannot attach directory %s", args)
	}
	r.pending = append(r.pending, chat.Attachment{
		Name:     filepath.Base(args),
		MimeType: utils.GetMimeType(args),
		Path:     args,
	})
	fmt.Fprintf(r.out, "Attached %s (%s, %d pending)\n", filepath.Base(args), utils.FormatFileSize(info.Size()), len(r.pending))
	return false, nil
}

func (r *REPL) cmdDetach(_ context.Context, args string) (bool, error) {
	if args == "" {
		r.pending = nil
		return false, nil
	}
	idx, err := messageIndex(args, len(r.pending))
	if err != nil {
		return false, err
	}
	r.pending = append(r.pending[:idx:idx], r.pending[idx+1:]...)
	return false, nil
}

func (r *REPL) cmdSend(ctx context.Context, args string) (bool, error) {
	return false, r.send(ctx, args)
}

// cmdRegen without an argument regenerates the latest reply, or answers a
// trailing user turn that never got one.
func (r *REPL) cmdRegen(ctx context.Context, args string) (bool, error) {
	conv, err := r.selected()
	if err != nil {
		return false, err
	}
	n := len(conv.Messages)
	at := -1
	if args != "" {
		if at, err = messageIndex(args, n); err != nil {
			return false, err
		}
	} else if last, ok := conv.Last(); ok {
		at = n - 1
		if last.Role == chat.RoleUser {
			at = n
		}
	}

	x, err := r.controller.Regenerate(ctx, conv.ID, at)
	if err != nil {
		return false, err
	}
	if x == nil {
		return false, errors.New("nothing to regenerate there")
	}
	r.follow(ctx, x)
	return false, nil
}

func (r *REPL) cmdDel(_ context.Context, args string) (bool, error) {
	conv, err := r.selected()
	if err != nil {
		return false, err
	}
	if r.controller.Busy(conv.ID) {
		return false, chat.ErrBusy
	}
	idx, err := messageIndex(args, len(conv.Messages))
	if err != nil {
		return false, err
	}
	r.store.DeleteMessageAt(conv.ID, idx)
	return false, nil
}

func (r *REPL) cmdShow(_ context.Context, _ string) (bool, error) {
	conv, err := r.selected()
	if err != nil {
		return false, err
	}
	fmt.Fprintf(r.out, "# %s (%s)\n", conv.Title, conv.Model)
	if conv.SystemPrompt != "" {
		fmt.Fprintf(r.out, "system: %s\n", conv.SystemPrompt)
	}
	for i, msg := range conv.Messages {
		fmt.Fprintf(r.out, "\n[%d] %s\n", i+1, msg.Role)
		for _, f := range msg.Files {
			fmt.Fprintf(r.out, "  [file] %s (%s)\n", f.Name, f.MimeType)
		}
		if msg.Role == chat.RoleAssistant {
			fmt.Fprintln(r.out, strings.TrimRight(render.OrSource(r.renderer, msg.Content), "\n"))
		} else {
			fmt.Fprintln(r.out, msg.Content)
		}
	}
	return false, nil
}

func (r *REPL) exportPath(arg, title string, format export.ExportFormat) (string, error) {
	if arg != "" {
		return arg, nil
	}
	dir := r.opts.ExportDir
	if dir == "" {
		var err error
		if dir, err = export.GetDefaultExportPath(); err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, export.GenerateExportFilename(title, format)), nil
}

func (r *REPL) cmdExport(_ context.Context, args string) (bool, error) {
	format, pathArg, _ := strings.Cut(args, " ")
	pathArg = strings.TrimSpace(pathArg)
	if format == "" {
		return false, errors.New("usage: /export <json|markdown|html|all> [path]")
	}

	if format == "all" {
		path, err := r.exportPath(pathArg, "all_conversations", export.FormatJSON)
		if err != nil {
			return false, err
		}
		if err := export.ExportAllConversations(r.store.Snapshot().Conversations, path); err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "Exported to %s\n", path)
		return false, nil
	}

	conv, err := r.selected()
	if err != nil {
		return false, err
	}
	path, err := r.exportPath(pathArg, conv.Title, export.ExportFormat(format))
	if err != nil {
		return false, err
	}
	if err := export.Export(conv, export.ExportFormat(format), path); err != nil {
		return false, err
	}
	fmt.Fprintf(r.out, "Exported to %s\n", path)
	return false, nil
}

func (r *REPL) cmdImport(_ context.Context, args string) (bool, error) {
	if rest, ok := strings.CutPrefix(args, "all "); ok {
		count, err := export.ImportAllConversations(r.store, strings.TrimSpace(rest))
		if err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "Imported %d conversations\n", count)
		return false, nil
	}
	if args == "" {
		return false, errors.New("usage: /import [all] <path>")
	}
	conv, err := export.ImportConversation(r.store, args)
	if err != nil {
		return false, err
	}
	fmt.Fprintf(r.out, "Imported %s\n", conv.Title)
	return false, nil
}

func (r *REPL) cmdStats(_ context.Context, _ string) (bool, error) {
	snap := r.store.Snapshot()
	messages := 0
	for _, conv := range snap.Conversations {
		messages += len(conv.Messages)
	}
	fmt.Fprintf(r.out, "Conversations: %d\nMessages: %d\n", len(snap.Conversations), messages)
	if r.opts.Stats == nil {
		return false, nil
	}
	stats, err := r.opts.Stats.GetStats()
	if err != nil {
		return false, err
	}
	fmt.Fprintf(r.out, "Stored keys: %d\nStored data: %s\nDatabase size: %s\n",
		stats.KeyCount, utils.FormatFileSize(stats.ValueBytes), utils.FormatFileSize(stats.DBSizeBytes))
	return false, nil
}

func (r *REPL) cmdVacuum(_ context.Context, _ string) (bool, error) {
	if r.opts.Stats == nil {
		return false, errors.New("the storage backend does not support vacuum")
	}
	if err := r.opts.Stats.Vacuum(); err != nil {
		return false, err
	}
	fmt.Fprintln(r.out, "Database compacted")
	return false, nil
}

func (r *REPL) cmdHelp(_ context.Context, _ string) (bool, error) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(r.out, "  %-42s %s\n", commands[name].usage, commands[name].help)
	}
	fmt.Fprintln(r.out, "Plain input sends a message. Ctrl-C stops a streaming reply.")
	return false, nil
}

func (r *REPL) cmdQuit(_ context.Context, _ string) (bool, error) {
	return true, nil
}
