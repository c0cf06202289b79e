package desktop

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"lightchat/chat"
	"lightchat/utils"
)

// messageBubble is the rendered form of one message. Markdown is only re-parsed
// when the content changes, which keeps streaming cheap.
type messageBubble struct {
	content string
	text    *widget.RichText
	files   *widget.Label
	box     *fyne.Container
}

func newMessageBubble(msg chat.Message) *messageBubble {
	header := widget.NewLabelWithStyle(roleLabel(msg.Role), fyne.TextAlignLeading, fyne.TextStyle{Bold: true})
	b := &messageBubble{
		content: msg.Content,
		text:    widget.NewRichTextFromMarkdown(msg.Content),
		files:   widget.NewLabel(""),
	}
	b.text.Wrapping = fyne.TextWrapWord
	b.files.Importance = widget.LowImportance
	b.box = container.NewVBox(header, b.text, b.files)
	b.set(msg)
	return b
}

func (b *messageBubble) set(msg chat.Message) {
	if msg.Content != b.content {
		b.content = msg.Content
		b.text.ParseMarkdown(msg.Content)
	}
	names := make([]string, 0, len(msg.Files))
	for _, f := range msg.Files {
		names = append(names, f.Name)
	}
	if len(names) == 0 {
		b.files.Hide()
		return
	}
	b.files.SetText("Attached: " + strings.Join(names, ", "))
	b.files.Show()
}

func roleLabel(role chat.Role) string {
	if role == chat.RoleUser {
		return "You"
	}
	return "Assistant"
}

// ChatView shows the selected conversation and the composer.
type ChatView struct {
	app *App

	conversationID string
	bubbles        map[string]*messageBubble
	pending        []chat.Attachment
	exchange       *chat.Exchange
	updating       bool

	modelSelect  *widget.Select
	messages     *fyne.Container
	scroll       *container.Scroll
	status       *widget.Label
	attachments  *widget.Label
	input        *widget.Entry
	sendButton   *widget.Button
	stopButton   *widget.Button
	regenButton  *widget.Button
	attachButton *widget.Button
	content      fyne.CanvasObject
}

func newChatView(a *App) *ChatView {
	v := &ChatView{
		app:     a,
		bubbles: make(map[string]*messageBubble),
	}

	v.modelSelect = widget.NewSelect(nil, func(model string) {
		if v.updating || v.conversationID == "" {
			return
		}
		a.store.SetModel(v.conversationID, model)
		a.refresh()
	})

	v.messages = container.NewVBox()
	v.scroll = container.NewVScroll(v.messages)
	v.status = widget.NewLabel("")
	v.status.Importance = widget.DangerImportance
	v.attachments = widget.NewLabel("")
	v.attachments.Hide()

	v.input = widget.NewMultiLineEntry()
	v.input.SetPlaceHolder("Type a message...")
	v.input.Wrapping = fyne.TextWrapWord
	v.input.SetMinRowsVisible(3)

	v.sendButton = widget.NewButtonWithIcon("Send", theme.MailSendIcon(), v.send)
	v.sendButton.Importance = widget.HighImportance
	v.stopButton = widget.NewButtonWithIcon("Stop", theme.MediaStopIcon(), v.stop)
	v.regenButton = widget.NewButtonWithIcon("", theme.ViewRefreshIcon(), v.regenerate)
	v.attachButton = widget.NewButtonWithIcon("", theme.FileIcon(), v.showAttachDialog)

	top := container.NewBorder(nil, nil, widget.NewLabel("Model"), nil, v.modelSelect)
	buttons := container.NewHBox(v.attachButton, v.regenButton, v.stopButton, v.sendButton)
	composer := container.NewBorder(
		container.NewVBox(v.status, v.attachments), nil, nil, buttons, v.input,
	)
	v.content = container.NewBorder(top, composer, nil, nil, v.scroll)
	return v
}

// update renders the selected conversation of snap.
func (v *ChatView) update(snap *chat.Snapshot) {
	v.updating = true
	defer func() { v.updating = false }()

	conv, ok := snap.Current()
	if conv.ID != v.conversationID {
		v.conversationID = conv.ID
		v.bubbles = make(map[string]*messageBubble)
		v.status.SetText("")
	}
	if v.exchange != nil && v.exchange.ConversationID != conv.ID {
		v.exchange = nil
	}

	v.updateModels(conv.Model)
	v.updateMessages(conv.Messages)
	v.updateStatus()

	busy := ok && v.app.controller.Busy(conv.ID)
	setEnabled(v.sendButton, !busy)
	setEnabled(v.stopButton, busy)
	setEnabled(v.regenButton, ok && !busy && len(conv.Messages) > 0)
	setEnabled(v.modelSelect, ok)
}

func (v *ChatView) updateModels(current string) {
	options := append([]string(nil), v.app.opts.Models...)
	if current != "" && !contains(options, current) {
		options = append(options, current)
	}
	v.modelSelect.SetOptions(options)
	if current == "" {
		v.modelSelect.ClearSelected()
		return
	}
	v.modelSelect.SetSelected(current)
}

func (v *ChatView) updateMessages(msgs []chat.Message) {
	objects := make([]fyne.CanvasObject, 0, len(msgs))
	seen := make(map[string]bool, len(msgs))
	grew := len(msgs) != len(v.messages.Objects)
	for _, msg := range msgs {
		b, ok := v.bubbles[msg.ID]
		if !ok {
			b = newMessageBubble(msg)
			v.bubbles[msg.ID] = b
		} else {
			if msg.Content != b.content {
				grew = true
			}
			b.set(msg)
		}
		seen[msg.ID] = true
		objects = append(objects, b.box)
	}
	for id := range v.bubbles {
		if !seen[id] {
			delete(v.bubbles, id)
		}
	}

	v.messages.Objects = objects
	v.messages.Refresh()
	if grew {
		v.scroll.ScrollToBottom()
	}
}

// updateStatus reports how the last exchange started here ended.
func (v *ChatView) updateStatus() {
	x := v.exchange
	if x == nil {
		return
	}
	switch x.State() {
	case chat.StateFailed:
		v.status.SetText(fmt.Sprintf("Failed: %v", x.Err()))
	case chat.StateCancelled:
		v.status.SetText("Stopped")
	default:
		v.status.SetText("")
	}
}

func (v *ChatView) send() {
	text := v.input.Text
	if strings.TrimSpace(text) == "" && len(v.pending) == 0 {
		return
	}
	conv := v.app.current()

	x, err := v.app.controller.Send(v.app.ctx, conv.ID, text, v.pending, v.app.opts.DefaultModel)
	if err != nil {
		v.app.logger.Warn("Send failed: %v", err)
		dialog.ShowError(err, v.app.window)
		return
	}
	v.input.SetText("")
	v.pending = nil
	v.showPending()
	v.started(x)
}

func (v *ChatView) regenerate() {
	conv, ok := v.app.store.Snapshot().Current()
	if !ok {
		return
	}
	at := len(conv.Messages)
	if last, ok := conv.Last(); ok && last.Role == chat.RoleAssistant {
		at--
	}

	x, err := v.app.controller.Regenerate(v.app.ctx, conv.ID, at)
	if err != nil {
		dialog.ShowError(err, v.app.window)
		return
	}
	v.started(x)
}

func (v *ChatView) started(x *chat.Exchange) {
	v.exchange = x
	if x != nil {
		v.app.follow(x)
	}
	v.app.refresh()
}

func (v *ChatView) stop() {
	if v.conversationID != "" {
		v.app.controller.Cancel(v.conversationID)
	}
}

func (v *ChatView) showAttachDialog() {
	dialog.ShowFileOpen(func(reader fyne.URIReadCloser, err error) {
		if err != nil {
			dialog.ShowError(err, v.app.window)
			return
		}
		if reader == nil {
			return
		}
		defer reader.Close()
		if err := v.attach(reader.URI().Path()); err != nil {
			dialog.ShowError(err, v.app.window)
		}
	}, v.app.window)
}

// attach queues the file at path for the next message.
func (v *ChatView) attach(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot attach %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("cannot attach directory %s", path)
	}
	v.pending = append(v.pending, chat.Attachment{
		Name:     filepath.Base(path),
		MimeType: utils.GetMimeType(path),
		Path:     path,
	})
	v.showPending()
	return nil
}

func (v *ChatView) showPending() {
	if len(v.pending) == 0 {
		v.attachments.SetText("")
		v.attachments.Hide()
		return
	}
	names := make([]string, 0, len(v.pending))
	for _, a := range v.pending {
		names = append(names, a.Name)
	}
	v.attachments.SetText("Attached: " + strings.Join(names, ", "))
	v.attachments.Show()
}

func setEnabled(w fyne.Disableable, enabled bool) {
	if enabled {
		w.Enable()
	} else {
		w.Disable()
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
