package desktop

import (
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"lightchat/chat"
)

// Sidebar lists the conversations, newest first, with the selected one in bold.
type Sidebar struct {
	app *App

	conversations []chat.Conversation
	selected      string

	list         *widget.List
	newButton    *widget.Button
	renameButton *widget.Button
	deleteButton *widget.Button
	content      fyne.CanvasObject
}

func newSidebar(a *App) *Sidebar {
	s := &Sidebar{app: a}

	s.list = widget.NewList(
		func() int { return len(s.conversations) },
		func() fyne.CanvasObject {
			label := widget.NewLabel("")
			label.Truncation = fyne.TextTruncateEllipsis
			return label
		},
		func(id widget.ListItemID, obj fyne.CanvasObject) {
			if id >= len(s.conversations) {
				return
			}
			conv := s.conversations[id]
			label := obj.(*widget.Label)
			label.TextStyle = fyne.TextStyle{Bold: conv.ID == s.selected}
			label.SetText(conv.Title)
		},
	)
	s.list.OnSelected = func(id widget.ListItemID) {
		if id >= len(s.conversations) {
			return
		}
		convID := s.conversations[id].ID
		if convID == s.selected {
			return
		}
		a.store.Select(convID)
		a.refresh()
	}

	s.newButton = widget.NewButtonWithIcon("New", theme.ContentAddIcon(), func() {
		a.store.Create(a.opts.DefaultModel)
		a.refresh()
	})
	s.renameButton = widget.NewButtonWithIcon("", theme.DocumentCreateIcon(), s.showRenameDialog)
	s.deleteButton = widget.NewButtonWithIcon("", theme.DeleteIcon(), s.showDeleteDialog)

	toolbar := container.NewBorder(nil, nil, nil, container.NewHBox(s.renameButton, s.deleteButton), s.newButton)
	s.content = container.NewBorder(toolbar, nil, nil, nil, s.list)
	return s
}

// update mirrors snap into the list.
func (s *Sidebar) update(snap *chat.Snapshot) {
	s.conversations = snap.Conversations
	s.selected = snap.CurrentID
	s.list.Refresh()

	_, idx, ok := snap.Find(snap.CurrentID)
	if ok {
		s.list.Select(idx)
		s.renameButton.Enable()
		s.deleteButton.Enable()
	} else {
		s.list.UnselectAll()
		s.renameButton.Disable()
		s.deleteButton.Disable()
	}
}

func (s *Sidebar) showRenameDialog() {
	conv, ok := s.app.store.Snapshot().Current()
	if !ok {
		return
	}
	entry := widget.NewEntry()
	entry.SetText(conv.Title)
	dialog.ShowForm("Rename conversation", "Rename", "Cancel",
		[]*widget.FormItem{widget.NewFormItem("Title", entry)},
		func(confirmed bool) {
			if confirmed {
				s.rename(entry.Text)
			}
		}, s.app.window)
}

// rename retitles the selected conversation. Blank titles are ignored.
func (s *Sidebar) rename(title string) {
	title = strings.TrimSpace(title)
	if title == "" || s.selected == "" {
		return
	}
	s.app.store.Rename(s.selected, title)
	s.app.refresh()
}

func (s *Sidebar) showDeleteDialog() {
	conv, ok := s.app.store.Snapshot().Current()
	if !ok {
		return
	}
	dialog.ShowConfirm("Delete conversation", "Delete \""+conv.Title+"\"?", func(confirmed bool) {
		if confirmed {
			s.deleteSelected()
		}
	}, s.app.window)
}

// deleteSelected removes the selected conversation, cancelling its reply first.
func (s *Sidebar) deleteSelected() {
	if s.selected == "" {
		return
	}
	s.app.controller.Cancel(s.selected)
	s.app.store.Delete(s.selected)
	s.app.refresh()
}
