package send

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ozmetal/inbox/internal/bus"
	"github.com/ozmetal/inbox/internal/content"
	"github.com/ozmetal/inbox/internal/gateway"
	"github.com/ozmetal/inbox/internal/store"
	"go.uber.org/zap"
)

// mockGateway records calls and returns configurable results.
type mockGateway struct {
	mu    sync.Mutex
	calls []gateway.Request
	err   error
	delay time.Duration
}

func (m *mockGateway) Send(_ context.Context, req gateway.Request) (*gateway.Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	n := len(m.calls)
	m.mu.Unlock()
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.err != nil {
		return nil, m.err
	}
	return &gateway.Response{ExternalID: "wamid.SRV" + string(rune('0'+n))}, nil
}

func (m *mockGateway) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// openConversation seeds a conversation whose window is open for another day.
func openConversation(t *testing.T, db *store.DB, id string) {
	t.Helper()
	expiry := time.Now().Add(24 * time.Hour).UnixMilli()
	if err := db.RecordInbound(id, "90555", time.Now().UnixMilli(), "soru", expiry); err != nil {
		t.Fatal(err)
	}
}

// closedConversation seeds a conversation whose window expired an hour ago.
func closedConversation(t *testing.T, db *store.DB, id string) {
	t.Helper()
	expiry := time.Now().Add(-time.Hour).UnixMilli()
	if err := db.RecordInbound(id, "90555", time.Now().Add(-25*time.Hour).UnixMilli(), "eski", expiry); err != nil {
		t.Fatal(err)
	}
}

func newPipeline(db *store.DB, gw gateway.Gateway, b *bus.Bus) *Pipeline {
	logger, _ := zap.NewDevelopment()
	return NewPipeline(db, gw, b, logger)
}

func TestSendSuccess(t *testing.T) {
	db := testDB(t)
	mock := &mockGateway{}
	p := newPipeline(db, mock, bus.New())
	openConversation(t, db, "conv1")

	res, err := p.Send(context.Background(), "conv1", content.NewText("fiyat ekte"), "")
	if err != nil {
		t.Fatal(err)
	}
	if res.ExternalID == "" {
		t.Error("external id not assigned")
	}

	msgs, _ := db.ListMessages("conv1", 0, 10)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Status != "sent" {
		t.Errorf("status = %q, want sent", msgs[0].Status)
	}

	c, _ := db.GetConversation("conv1")
	if c.LastMessagePreview != "fiyat ekte" {
		t.Errorf("preview = %q, want optimistic update", c.LastMessagePreview)
	}
}

func TestSendClosedWindowNoNetworkCall(t *testing.T) {
	db := testDB(t)
	mock := &mockGateway{}
	p := newPipeline(db, mock, bus.New())
	closedConversation(t, db, "conv1")

	_, err := p.Send(context.Background(), "conv1", content.NewText("gec kaldik"), "")
	if !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("error = %v, want ErrWindowClosed", err)
	}
	if mock.callCount() != 0 {
		t.Errorf("gateway calls = %d, want 0 (fail fast)", mock.callCount())
	}
}

func TestSendTemplateThroughClosedWindow(t *testing.T) {
	db := testDB(t)
	mock := &mockGateway{}
	p := newPipeline(db, mock, bus.New())
	closedConversation(t, db, "conv1")

	_, err := p.Send(context.Background(), "conv1", content.NewTemplate("order_update", "tr"), "")
	if err != nil {
		t.Fatalf("template send through closed window failed: %v", err)
	}
	if mock.callCount() != 1 {
		t.Errorf("gateway calls = %d, want 1", mock.callCount())
	}
}

func TestSendWindowFreshness(t *testing.T) {
	// The window is recomputed per send, not cached: the same pipeline that
	// accepted a send must reject one issued after expiry.
	db := testDB(t)
	mock := &mockGateway{}
	p := newPipeline(db, mock, bus.New())

	base := time.Now()
	expiry := base.Add(time.Minute).UnixMilli()
	if err := db.RecordInbound("conv1", "90555", base.UnixMilli(), "soru", expiry); err != nil {
		t.Fatal(err)
	}

	p.now = func() time.Time { return base }
	if _, err := p.Send(context.Background(), "conv1", content.NewText("hizli cevap"), ""); err != nil {
		t.Fatalf("send inside window: %v", err)
	}

	p.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := p.Send(context.Background(), "conv1", content.NewText("gec cevap"), ""); !errors.Is(err, ErrWindowClosed) {
		t.Errorf("error = %v, want ErrWindowClosed after expiry", err)
	}
}

func TestSendRequiresTemplateIsWindowClosed(t *testing.T) {
	// Locally open, but the server rejects with template-required: identical
	// outcome to the local fast-path rejection.
	db := testDB(t)
	mock := &mockGateway{err: gateway.ErrRequiresTemplate}
	p := newPipeline(db, mock, bus.New())
	openConversation(t, db, "conv1")

	_, err := p.Send(context.Background(), "conv1", content.NewText("x"), "")
	if !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("error = %v, want ErrWindowClosed (not a gateway error)", err)
	}
	var ge *GatewayError
	if errors.As(err, &ge) {
		t.Error("requiresTemplate must not classify as GatewayError")
	}

	// The attempt stays visible, marked failed.
	msgs, _ := db.ListMessages("conv1", 0, 10)
	if len(msgs) != 1 || msgs[0].Status != "failed" {
		t.Errorf("timeline = %+v, want one failed message", msgs)
	}
}

func TestSendGatewayError(t *testing.T) {
	db := testDB(t)
	mock := &mockGateway{err: &gateway.APIError{Code: 500, Message: "internal"}}
	b := bus.New()
	p := newPipeline(db, mock, b)
	openConversation(t, db, "conv1")

	ch, unsub := b.Subscribe("message.send_failed", 10)
	defer unsub()

	_, err := p.Send(context.Background(), "conv1", content.NewText("x"), "")
	var ge *GatewayError
	if !errors.As(err, &ge) {
		t.Fatalf("error = %v, want *GatewayError", err)
	}
	if ge.Code != 500 {
		t.Errorf("code = %d, want 500", ge.Code)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for send_failed event")
	}

	msgs, _ := db.ListMessages("conv1", 0, 10)
	if len(msgs) != 1 || msgs[0].Status != "failed" {
		t.Errorf("failed send must be visible in the timeline, got %+v", msgs)
	}
}

func TestSendNetworkError(t *testing.T) {
	db := testDB(t)
	mock := &mockGateway{err: &gateway.TransportError{Err: errors.New("timeout")}}
	p := newPipeline(db, mock, bus.New())
	openConversation(t, db, "conv1")

	_, err := p.Send(context.Background(), "conv1", content.NewText("x"), "")
	var ne *NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("error = %v, want *NetworkError", err)
	}
}

func TestSendValidation(t *testing.T) {
	db := testDB(t)
	mock := &mockGateway{}
	p := newPipeline(db, mock, bus.New())
	openConversation(t, db, "conv1")

	tests := []struct {
		name    string
		convID  string
		content content.Content
		replyTo string
	}{
		{"empty body", "conv1", content.NewText(""), ""},
		{"unknown conversation", "nope", content.NewText("x"), ""},
		{"unresolvable reply target", "conv1", content.NewText("x"), "wamid.MISSING"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Send(context.Background(), tt.convID, tt.content, tt.replyTo)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("error = %v, want *ValidationError", err)
			}
		})
	}
	if mock.callCount() != 0 {
		t.Errorf("gateway calls = %d, want 0 (rejected before I/O)", mock.callCount())
	}
}

func TestSendReplyToKnownMessage(t *testing.T) {
	db := testDB(t)
	mock := &mockGateway{}
	p := newPipeline(db, mock, bus.New())
	openConversation(t, db, "conv1")

	_ = db.UpsertInbound(&store.Message{
		ConversationID: "conv1", ExternalID: "wamid.Q", Type: "text",
		Body: "Fiyat nedir?", Content: content.NewText("Fiyat nedir?"),
		Status: "received", Timestamp: 1000,
	})

	if _, err := p.Send(context.Background(), "conv1", content.NewText("Ekte"), "wamid.Q"); err != nil {
		t.Fatal(err)
	}
	mock.mu.Lock()
	defer mock.mu.Unlock()
	if mock.calls[0].ReplyToExternalID != "wamid.Q" {
		t.Errorf("reply ref = %q, want wamid.Q", mock.calls[0].ReplyToExternalID)
	}
}

func TestSendSingleFlight(t *testing.T) {
	db := testDB(t)
	mock := &mockGateway{delay: 300 * time.Millisecond}
	p := newPipeline(db, mock, bus.New())
	openConversation(t, db, "conv1")

	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Send(context.Background(), "conv1", content.NewText("double"), "")
			errCh <- err
		}()
		// Stagger so the second send observes the first in flight.
		time.Sleep(50 * time.Millisecond)
	}
	wg.Wait()
	close(errCh)

	var ok, rejected int
	for err := range errCh {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrSendInFlight):
			rejected++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || rejected != 1 {
		t.Errorf("ok=%d rejected=%d, want 1/1", ok, rejected)
	}
	if mock.callCount() != 1 {
		t.Errorf("gateway calls = %d, want 1 (re-entrant send not queued)", mock.callCount())
	}
}

func TestResendCreatesNewMessage(t *testing.T) {
	db := testDB(t)
	mock := &mockGateway{err: &gateway.APIError{Code: 500, Message: "boom"}}
	p := newPipeline(db, mock, bus.New())
	openConversation(t, db, "conv1")

	_, err := p.Send(context.Background(), "conv1", content.NewText("ilk deneme"), "")
	if err == nil {
		t.Fatal("expected first send to fail")
	}
	msgs, _ := db.ListMessages("conv1", 0, 10)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	failedID := msgs[0].ClientID

	mock.err = nil
	if _, err := p.Resend(context.Background(), failedID); err != nil {
		t.Fatal(err)
	}

	msgs, _ = db.ListMessages("conv1", 0, 10)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 (resend is a new row)", len(msgs))
	}
	// The original failed row is untouched.
	var failed, sent int
	for _, m := range msgs {
		switch m.Status {
		case "failed":
			failed++
		case "sent":
			sent++
		}
	}
	if failed != 1 || sent != 1 {
		t.Errorf("failed=%d sent=%d, want 1/1", failed, sent)
	}
}

func TestResendRequiresFailedStatus(t *testing.T) {
	db := testDB(t)
	mock := &mockGateway{}
	p := newPipeline(db, mock, bus.New())
	openConversation(t, db, "conv1")

	res, err := p.Send(context.Background(), "conv1", content.NewText("ok"), "")
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Resend(context.Background(), res.Message.ClientID)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("resending a sent message: error = %v, want *ValidationError", err)
	}
}
