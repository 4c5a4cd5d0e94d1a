package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/ozmetal/inbox/internal/delivery"
	"github.com/ozmetal/inbox/internal/inbox"
	"github.com/ozmetal/inbox/internal/store"
	"github.com/ozmetal/inbox/internal/window"
)

// Thread displays the active conversation: window banner, message
// timeline and composer.
type Thread struct {
	*tview.Flex
	banner   *tview.TextView
	messages *tview.TextView
	composer *tview.InputField
	onSend   func(text string)
}

// NewThread creates the conversation view.
func NewThread() *Thread {
	banner := tview.NewTextView().SetDynamicColors(true)

	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetTitle(" Messages ")

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetTitle(" Compose (i to focus) ")

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(banner, 1, 0, false).
		AddItem(messages, 0, 1, true).
		AddItem(composer, 3, 0, false)

	t := &Thread{
		Flex:     flex,
		banner:   banner,
		messages: messages,
		composer: composer,
	}

	composer.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && t.onSend != nil {
			text := composer.GetText()
			if text != "" {
				t.onSend(text)
				composer.SetText("")
			}
		}
	})

	return t
}

// SetOnSend sets the callback invoked when the composer submits.
func (t *Thread) SetOnSend(fn func(text string)) {
	t.onSend = fn
}

// SetTitleName updates the thread title.
func (t *Thread) SetTitleName(name string) {
	t.messages.SetTitle(fmt.Sprintf(" %s ", name))
}

// Update re-renders the timeline from the session's view state.
func (t *Thread) Update(s *inbox.Session, conv *store.Conversation) {
	t.renderBanner(s, conv)
	t.messages.Clear()

	highlight := s.Highlight()
	for _, m := range s.Messages() {
		t.renderMessage(s, m, m.Key() == highlight)
	}

	if s.ScrollPosition() == 0 {
		t.messages.ScrollToEnd()
	}
}

// renderBanner shows the service-window state, recomputed at every
// render, plus the new-message affordance when scrolled into history.
func (t *Thread) renderBanner(s *inbox.Session, conv *store.Conversation) {
	t.banner.Clear()
	if conv == nil {
		return
	}
	var line string
	st := window.Evaluate(conv.WindowExpiry(), time.Now())
	if st.Open {
		line = fmt.Sprintf(" [green]window open[-] %s left", formatRemaining(st.Remaining))
	} else {
		line = " [red]window closed[-] free-form sends disabled, use a template"
	}
	if n := s.PendingNew(); n > 0 {
		line += fmt.Sprintf("  [yellow]v %d new message(s) below. End to jump[-]", n)
	}
	_, _ = fmt.Fprint(t.banner, line)
}

func (t *Thread) renderMessage(s *inbox.Session, m *store.Message, highlighted bool) {
	sender := "Customer"
	if m.Direction == store.DirectionOutbound {
		sender = "You"
	}
	ts := formatTimestamp(m.Timestamp)

	head := fmt.Sprintf("[::b]%s[-:-:-] [::d]%s %s[-:-:-]", sender, ts, statusTicks(m))
	if highlighted {
		head = "[black:yellow]>>[-:-] " + head
	}

	var quote string
	if ref := s.ResolveReply(m); ref != nil {
		if ref.Placeholder {
			quote = "  [::d]> (earlier message)[-:-:-]\n"
		} else {
			quote = fmt.Sprintf("  [::d]> %s[-:-:-]\n",
				tview.Escape(sanitizeForTerminal(truncate(ref.Message.Body, 60))))
		}
	}

	body := m.Body
	if body == "" {
		body = "[" + m.Type + "]"
	}
	if m.Status == string(delivery.Failed) && m.ErrorMessage != "" {
		body += "\n  [red]send failed: " + tview.Escape(m.ErrorMessage) + "[-]"
	}

	_, _ = fmt.Fprintf(t.messages, "%s\n%s%s\n\n",
		head, quote, tview.Escape(sanitizeForTerminal(body)))
}

// statusTicks renders the delivery lifecycle for outbound messages.
func statusTicks(m *store.Message) string {
	if m.Direction != store.DirectionOutbound {
		return ""
	}
	switch delivery.Status(m.Status) {
	case delivery.Queued:
		return "[::d]o[-:-:-]"
	case delivery.Sent:
		return "[::d]v[-:-:-]"
	case delivery.Delivered:
		return "[::d]vv[-:-:-]"
	case delivery.Read:
		return "[blue]vv[-]"
	case delivery.Failed:
		return "[red]x[-]"
	}
	return ""
}

// Messages returns the timeline text view for focus management.
func (t *Thread) Messages() *tview.TextView {
	return t.messages
}

// Composer returns the input field for focus management.
func (t *Thread) Composer() *tview.InputField {
	return t.composer
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
