package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ozmetal/inbox/internal/bus"
	"github.com/ozmetal/inbox/internal/content"
	"github.com/ozmetal/inbox/internal/crm"
	"github.com/ozmetal/inbox/internal/store"
	"go.uber.org/zap"
)

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

func inboundText(conv, externalID, body string, ts int64) *store.Message {
	return &store.Message{
		ConversationID: conv, ExternalID: externalID,
		Direction: store.DirectionInbound, Type: "text",
		Body: body, Content: content.NewText(body),
		Status: "received", Timestamp: ts,
	}
}

func TestEngineIngestMessage(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	logger, _ := zap.NewDevelopment()
	e := NewEngine(db, b, crm.NewStoreResolver(db), logger)

	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	ts := time.Now().UnixMilli()
	if err := e.IngestMessage(inboundText("90555", "wamid.1", "merhaba", ts)); err != nil {
		t.Fatal(err)
	}

	// Conversation auto-created with a 24h window grant from the message.
	conv, err := db.GetConversation("90555")
	if err != nil {
		t.Fatal(err)
	}
	if conv == nil {
		t.Fatal("conversation not created")
	}
	if conv.ServiceWindowExpiry == nil {
		t.Fatal("window not granted")
	}
	wantExpiry := time.UnixMilli(ts).Add(24 * time.Hour).UnixMilli()
	if *conv.ServiceWindowExpiry != wantExpiry {
		t.Errorf("window expiry = %d, want %d (inbound + 24h)", *conv.ServiceWindowExpiry, wantExpiry)
	}
	if conv.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1", conv.UnreadCount)
	}

	msgs, _ := db.ListMessages("90555", 0, 10)
	if len(msgs) != 1 || msgs[0].Body != "merhaba" {
		t.Errorf("got %d messages, want 1 with body=merhaba", len(msgs))
	}

	select {
	case evt := <-ch:
		if evt.Kind != "message.upserted" {
			t.Errorf("event kind = %q, want message.upserted", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message.upserted event")
	}
}

func TestEngineIngestIdempotent(t *testing.T) {
	db := testDB(t)
	logger, _ := zap.NewDevelopment()
	e := NewEngine(db, bus.New(), crm.NewStoreResolver(db), logger)

	msg := inboundText("90555", "wamid.1", "v1", 1000)
	if err := e.IngestMessage(msg); err != nil {
		t.Fatal(err)
	}
	msg.Body = "v2"
	msg.Content = content.NewText("v2")
	if err := e.IngestMessage(msg); err != nil {
		t.Fatal(err)
	}

	msgs, _ := db.ListMessages("90555", 0, 10)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent)", len(msgs))
	}
	if msgs[0].Body != "v2" {
		t.Errorf("body = %q, want v2 (overwritten in place)", msgs[0].Body)
	}
}

func TestEngineApplyStatusForward(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	logger, _ := zap.NewDevelopment()
	e := NewEngine(db, b, crm.NewStoreResolver(db), logger)

	_ = db.RecordInbound("90555", "90555", 1000, "x", 0)
	_ = db.InsertOutbound(&store.Message{
		ConversationID: "90555", ClientID: "c1", Type: "text",
		Body: "cevap", Content: content.NewText("cevap"), Status: "queued", Timestamp: 2000,
	})
	_ = db.MarkSent("c1", "wamid.OUT", "sent")

	ch, unsub := b.Subscribe("message.status", 10)
	defer unsub()

	if err := e.ApplyStatus(bus.StatusUpdate{ExternalID: "wamid.OUT", Status: "delivered"}); err != nil {
		t.Fatal(err)
	}

	msg, _ := db.GetMessageByExternalID("wamid.OUT")
	if msg.Status != "delivered" {
		t.Errorf("status = %q, want delivered", msg.Status)
	}

	select {
	case evt := <-ch:
		u := evt.Payload.(bus.StatusUpdate)
		if u.Status != "delivered" {
			t.Errorf("event status = %q, want delivered", u.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message.status event")
	}
}

func TestEngineApplyStatusMonotonic(t *testing.T) {
	db := testDB(t)
	logger, _ := zap.NewDevelopment()
	e := NewEngine(db, bus.New(), crm.NewStoreResolver(db), logger)

	_ = db.RecordInbound("90555", "90555", 1000, "x", 0)
	_ = db.InsertOutbound(&store.Message{
		ConversationID: "90555", ClientID: "c1", Type: "text",
		Body: "cevap", Content: content.NewText("cevap"), Status: "queued", Timestamp: 2000,
	})
	_ = db.MarkSent("c1", "wamid.OUT", "sent")

	// read arrives before delivered (receipts reorder in transit).
	if err := e.ApplyStatus(bus.StatusUpdate{ExternalID: "wamid.OUT", Status: "read"}); err != nil {
		t.Fatal(err)
	}
	if err := e.ApplyStatus(bus.StatusUpdate{ExternalID: "wamid.OUT", Status: "delivered"}); err != nil {
		t.Fatal(err)
	}

	msg, _ := db.GetMessageByExternalID("wamid.OUT")
	if msg.Status != "read" {
		t.Errorf("status = %q, want read (no regression)", msg.Status)
	}
}

func TestEngineApplyStatusUnknownMessage(t *testing.T) {
	db := testDB(t)
	logger, _ := zap.NewDevelopment()
	e := NewEngine(db, bus.New(), crm.NewStoreResolver(db), logger)

	// Receipt for a message never seen locally must not error.
	if err := e.ApplyStatus(bus.StatusUpdate{ExternalID: "wamid.GHOST", Status: "delivered"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEngineBusSubscription(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	logger, _ := zap.NewDevelopment()
	e := NewEngine(db, b, crm.NewStoreResolver(db), logger)

	e.Start(context.Background())
	defer e.Stop()

	b.Publish(bus.Event{
		Kind:      "gw.message",
		Timestamp: time.Now(),
		Payload:   inboundText("90666", "wamid.B1", "from bus", 5000),
	})

	time.Sleep(100 * time.Millisecond)

	msgs, err := db.ListMessages("90666", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Body != "from bus" {
		t.Fatalf("got %d messages, want 1 via bus subscription", len(msgs))
	}

	b.Publish(bus.Event{
		Kind:      "gw.contact",
		Timestamp: time.Now(),
		Payload:   &store.Contact{CounterpartyID: "90666", ProfileName: "Mehmet"},
	})
	time.Sleep(100 * time.Millisecond)

	conv, _ := db.GetConversation("90666")
	if conv.DisplayName != "Mehmet" {
		t.Errorf("display name = %q, want Mehmet (contact via bus)", conv.DisplayName)
	}
}

func TestEngineContactUpdateNotifies(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	logger, _ := zap.NewDevelopment()
	e := NewEngine(db, b, crm.NewStoreResolver(db), logger)

	if err := e.IngestMessage(inboundText("90777", "wamid.C1", "selam", 1000)); err != nil {
		t.Fatal(err)
	}

	ch, unsub := b.Subscribe("conversation.", 10)
	defer unsub()

	e.Start(context.Background())
	defer e.Stop()

	// A profile update for a known counterparty must wake list watchers
	// so the new name shows without a restart.
	b.Publish(bus.Event{
		Kind:      "gw.contact",
		Timestamp: time.Now(),
		Payload:   &store.Contact{CounterpartyID: "90777", Name: "Ayşe Yılmaz"},
	})

	select {
	case evt := <-ch:
		ref, ok := evt.Payload.(bus.Ref)
		if !ok || ref.ConversationID != "90777" {
			t.Fatalf("unexpected event payload %+v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no conversation.upserted after contact update")
	}

	conv, err := db.GetConversation("90777")
	if err != nil {
		t.Fatal(err)
	}
	if conv.DisplayName != "Ayşe Yılmaz" {
		t.Errorf("display name = %q, want Ayşe Yılmaz", conv.DisplayName)
	}
}

func TestEngineReopenOnInbound(t *testing.T) {
	db := testDB(t)
	logger, _ := zap.NewDevelopment()
	e := NewEngine(db, bus.New(), crm.NewStoreResolver(db), logger)

	if err := e.IngestMessage(inboundText("90555", "wamid.1", "ilk", 1000)); err != nil {
		t.Fatal(err)
	}
	if err := db.SetConversationStatus("90555", store.ConversationClosed); err != nil {
		t.Fatal(err)
	}
	if err := e.IngestMessage(inboundText("90555", "wamid.2", "tekrar", 2000)); err != nil {
		t.Fatal(err)
	}

	conv, _ := db.GetConversation("90555")
	if conv.Status != store.ConversationOpen {
		t.Errorf("status = %q, want open (reopened by inbound)", conv.Status)
	}
}
