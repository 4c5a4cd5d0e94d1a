// Package tui is the operator console: a conversation list and a live
// message thread speaking to the session daemon over its Unix socket.
package tui

import (
	"context"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/ozmetal/inbox/internal/api"
	"github.com/ozmetal/inbox/internal/content"
	"github.com/ozmetal/inbox/internal/inbox"
	"github.com/ozmetal/inbox/internal/store"
	"github.com/ozmetal/inbox/internal/tui/client"
	"github.com/ozmetal/inbox/internal/tui/model"
	"github.com/ozmetal/inbox/internal/tui/views"
)

const flashDuration = 5 * time.Second

// App is the main TUI application shell.
type App struct {
	app     *tview.Application
	pages   *tview.Pages
	client  *client.Client
	session *inbox.Session
	flash   model.Flash

	statusBar *views.StatusBar
	convList  *views.ConversationList
	thread    *views.Thread
	searchBox *tview.InputField

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(c *client.Client, sessionName string) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		client:    c,
		statusBar: views.NewStatusBar(),
		convList:  views.NewConversationList(),
		thread:    views.NewThread(),
		ctx:       ctx,
		cancel:    cancel,
	}
	a.session = inbox.NewSession(c, c.MessageFeed, a.scheduleRedraw)
	a.statusBar.SetSession(sessionName)
	a.statusBar.SetStatus("connected")

	a.setupSearchBox()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

// scheduleRedraw requests a redraw from outside the UI goroutine. Session
// change notifications arrive on feed goroutines.
func (a *App) scheduleRedraw() {
	go a.app.QueueUpdateDraw(a.redraw)
}

func (a *App) redraw() {
	page, _ := a.pages.GetFrontPage()
	switch page {
	case "conversations":
		a.convList.Update(a.session.Conversations())
	case "thread":
		a.thread.Update(a.session, a.session.Conversation(a.session.ActiveID()))
	}
	a.statusBar.SetFlash(a.flash.Get())
}

func (a *App) setupSearchBox() {
	a.searchBox = tview.NewInputField().
		SetLabel(" search: ").
		SetFieldWidth(0)
	a.searchBox.SetBorder(true)
	a.searchBox.SetDoneFunc(func(key tcell.Key) {
		query := a.searchBox.GetText()
		a.searchBox.SetText("")
		a.pages.HidePage("search")
		a.app.SetFocus(a.thread.Messages())
		if key != tcell.KeyEnter || query == "" {
			return
		}
		n := a.session.Search(query)
		if n == 0 {
			a.flash.Set("no matches for "+query, flashDuration)
		} else {
			a.flash.Set("", 0)
			a.scrollToHighlight()
		}
		a.redraw()
	})
}

func (a *App) setupCallbacks() {
	a.convList.SetSelectedFunc(func(row, col int) {
		if id := a.convList.SelectedConversation(); id != "" {
			a.openConversation(id)
		}
	})

	a.thread.SetOnSend(func(text string) {
		conversationID := a.session.ActiveID()
		if conversationID == "" {
			return
		}
		payload, replyTo := a.composePayload(text)
		go func() {
			if _, err := a.client.Send(conversationID, payload, replyTo); err != nil {
				if client.IsWindowClosed(err) {
					a.flash.Set("window closed: send a template: /template <name>", flashDuration)
				} else {
					a.flash.Set("send failed: "+err.Error(), flashDuration)
				}
			} else {
				a.session.ClearReplyTarget()
			}
			a.refreshThread()
		}()
	})
}

// composePayload turns composer text into a payload. "/template <name>"
// sends the named pre-approved template, which is valid outside the
// service window.
func (a *App) composePayload(text string) (content.Content, string) {
	var replyTo string
	if target := a.session.ReplyTarget(); target != nil {
		replyTo = target.ExternalID
	}
	if name, ok := strings.CutPrefix(text, "/template "); ok {
		return content.NewTemplate(strings.TrimSpace(name), "tr"), replyTo
	}
	return content.NewText(text), replyTo
}

func (a *App) setupLayout() {
	a.pages.AddPage("conversations", a.convList, true, true)
	a.pages.AddPage("thread", a.thread, true, false)
	a.pages.AddPage("search", modal(a.searchBox, 60, 3), true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)
	a.app.SetInputCapture(a.handleKey)
}

func modal(p tview.Primitive, width, height int) tview.Primitive {
	return tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(p, height, 0, true).
			AddItem(nil, 0, 1, false), width, 0, true).
		AddItem(nil, 0, 1, false)
}

func (a *App) handleKey(event *tcell.EventKey) *tcell.EventKey {
	page, _ := a.pages.GetFrontPage()

	if event.Key() == tcell.KeyEscape {
		switch page {
		case "thread":
			a.session.Leave()
			a.pages.SwitchToPage("conversations")
			a.app.SetFocus(a.convList)
			a.convList.Update(a.session.Conversations())
			return nil
		case "search":
			a.pages.HidePage("search")
			a.app.SetFocus(a.thread.Messages())
			return nil
		}
	}

	// Text inputs keep all other keys.
	if _, ok := a.app.GetFocus().(*tview.InputField); ok {
		return event
	}

	switch page {
	case "conversations":
		if event.Key() == tcell.KeyRune {
			switch event.Rune() {
			case 'q':
				a.Stop()
				return nil
			case 'c':
				a.setConversationStatus(store.ConversationClosed)
				return nil
			case 'o':
				a.setConversationStatus(store.ConversationOpen)
				return nil
			}
		}
	case "thread":
		if handled := a.handleThreadKey(event); handled {
			return nil
		}
	}
	return event
}

func (a *App) handleThreadKey(event *tcell.EventKey) bool {
	switch event.Key() {
	case tcell.KeyUp:
		a.session.SetScrollPosition(a.session.ScrollPosition() + 1)
		return false
	case tcell.KeyPgUp:
		a.session.SetScrollPosition(a.session.ScrollPosition() + 10)
		return false
	case tcell.KeyDown:
		a.session.SetScrollPosition(a.session.ScrollPosition() - 1)
		return false
	case tcell.KeyPgDn:
		a.session.SetScrollPosition(max(0, a.session.ScrollPosition()-10))
		return false
	case tcell.KeyEnd:
		a.session.JumpToLatest()
		a.thread.Messages().ScrollToEnd()
		a.redraw()
		return true
	}

	if event.Key() != tcell.KeyRune {
		return false
	}
	switch event.Rune() {
	case 'i':
		a.app.SetFocus(a.thread.Composer())
		return true
	case '/':
		a.pages.ShowPage("search")
		a.app.SetFocus(a.searchBox)
		return true
	case 'n':
		if a.session.SearchNext() != nil {
			a.scrollToHighlight()
			a.redraw()
		}
		return true
	case 'N':
		if a.session.SearchPrev() != nil {
			a.scrollToHighlight()
			a.redraw()
		}
		return true
	case 'r':
		if m := a.session.SearchCurrent(); m != nil && m.ExternalID != "" {
			if err := a.session.SetReplyTarget(m.Key()); err == nil {
				a.flash.Set("replying to: "+truncateFlash(m.Body), flashDuration)
				a.redraw()
			}
		}
		return true
	case 'x':
		a.session.ClearReplyTarget()
		a.session.ClearSearch()
		a.redraw()
		return true
	case 'R':
		a.resendLastFailed()
		return true
	}
	return false
}

// scrollToHighlight scrolls the timeline near the current search match.
// Messages render about three lines each; the >> marker pins the exact one.
func (a *App) scrollToHighlight() {
	key := a.session.Highlight()
	if key == "" {
		return
	}
	for i, m := range a.session.Messages() {
		if m.Key() == key {
			a.thread.Messages().ScrollTo(i*3, 0)
			a.session.SetScrollPosition(len(a.session.Messages()) - i)
			return
		}
	}
}

func (a *App) setConversationStatus(status string) {
	id := a.convList.SelectedConversation()
	if id == "" {
		return
	}
	go func() {
		if err := a.client.SetStatus(id, status); err != nil {
			a.flash.Set("status change failed: "+err.Error(), flashDuration)
		}
		a.refreshConversations()
	}()
}

func (a *App) resendLastFailed() {
	msgs := a.session.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Direction == store.DirectionOutbound && m.Status == "failed" && m.ClientID != "" {
			go func() {
				if _, err := a.client.Resend(m.ClientID); err != nil {
					a.flash.Set("resend failed: "+err.Error(), flashDuration)
				}
				a.refreshThread()
			}()
			return
		}
	}
	a.flash.Set("no failed message to resend", flashDuration)
}

func (a *App) openConversation(id string) {
	go func() {
		if err := a.session.Enter(a.ctx, id); err != nil {
			a.flash.Set("open failed: "+err.Error(), flashDuration)
			return
		}
		a.app.QueueUpdateDraw(func() {
			conv := a.session.Conversation(id)
			name := id
			if conv != nil && conv.DisplayName != "" {
				name = conv.DisplayName
			}
			a.thread.SetTitleName(name)
			a.thread.Update(a.session, conv)
			a.pages.SwitchToPage("thread")
			a.app.SetFocus(a.thread.Messages())
		})
	}()
}

func (a *App) refreshThread() {
	go a.app.QueueUpdateDraw(a.redraw)
}

func (a *App) refreshConversations() {
	_ = a.session.LoadConversations(a.ctx)
}

// Run starts the TUI application.
func (a *App) Run() error {
	go func() {
		a.refreshConversations()

		// Conversation-level upserts keep the list live while the
		// per-conversation feed drives the open thread.
		_ = a.client.Watch(a.ctx, "conversation.", func(env api.EventEnvelope) {
			a.refreshConversations()
		})
	}()

	go a.tickClock()

	return a.app.Run()
}

// tickClock refreshes the status bar and the decaying window column.
func (a *App) tickClock() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.app.QueueUpdateDraw(a.redraw)
		case <-a.ctx.Done():
			return
		}
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

func truncateFlash(s string) string {
	if len(s) > 40 {
		return s[:40] + "..."
	}
	return s
}
