package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/ozmetal/inbox/internal/store"
	"github.com/ozmetal/inbox/internal/window"
)

// ConversationList is the main conversation table.
type ConversationList struct {
	*tview.Table
	convs  []*store.Conversation
	filter string
}

// NewConversationList creates a new conversation list table.
func NewConversationList() *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(tcell.ColorBlack).
		Background(tcell.ColorAqua))
	table.SetTitle(" Conversations ")

	return &ConversationList{Table: table}
}

// Update refreshes the list with new data.
func (cl *ConversationList) Update(convs []*store.Conversation) {
	cl.convs = convs
	cl.render()
}

// SetFilter sets the active filter text and re-renders.
func (cl *ConversationList) SetFilter(filter string) {
	cl.filter = filter
	cl.render()
}

// ClearFilter clears the active filter.
func (cl *ConversationList) ClearFilter() {
	cl.filter = ""
	cl.render()
}

func (cl *ConversationList) matches(c *store.Conversation) bool {
	if cl.filter == "" {
		return true
	}
	f := strings.ToLower(cl.filter)
	return strings.Contains(strings.ToLower(c.DisplayName), f) ||
		strings.Contains(strings.ToLower(c.LastMessagePreview), f)
}

func (cl *ConversationList) render() {
	cl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" NAME", 1},
		{" LAST MESSAGE", 2},
		{" TIME", 0},
		{" WINDOW", 0},
	}
	for col, h := range headers {
		cell := tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(tcell.ColorWhite).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp)
		cl.SetCell(0, col, cell)
	}

	row := 1
	for _, c := range cl.convs {
		if !cl.matches(c) {
			continue
		}
		name := c.DisplayName
		if c.UnreadCount > 0 {
			name = fmt.Sprintf("(%d) %s", c.UnreadCount, name)
		}
		if c.Status == store.ConversationClosed {
			name += " [closed]"
		}

		cl.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(name))).SetExpansion(1))
		cl.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(c.LastMessagePreview))).SetExpansion(2))
		cl.SetCell(row, 2, tview.NewTableCell(formatTimestamp(c.LastMessageAt)).SetAlign(tview.AlignRight))
		cl.SetCell(row, 3, tview.NewTableCell(windowCell(c)).SetAlign(tview.AlignRight))
		row++
	}

	if cl.filter != "" {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d/%d) filter: %s ", row-1, len(cl.convs), cl.filter))
	} else {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d) ", len(cl.convs)))
	}
}

// SelectedConversation returns the id of the currently selected row.
func (cl *ConversationList) SelectedConversation() string {
	row, _ := cl.GetSelection()
	idx := row - 1 // header
	if idx < 0 {
		return ""
	}
	visible := 0
	for _, c := range cl.convs {
		if !cl.matches(c) {
			continue
		}
		if visible == idx {
			return c.ID
		}
		visible++
	}
	return ""
}

// windowCell renders the service-window column. Evaluated fresh on every
// render; the window decays continuously.
func windowCell(c *store.Conversation) string {
	st := window.Evaluate(c.WindowExpiry(), time.Now())
	if !st.Open {
		return "[red]closed[-]"
	}
	return "[green]" + formatRemaining(st.Remaining) + "[-]"
}

func formatRemaining(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

func formatTimestamp(ms int64) string {
	if ms == 0 {
		return ""
	}
	t := time.UnixMilli(ms)
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
