package messaging_test

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agentgate/agentgate/internal/apierr"
	"github.com/agentgate/agentgate/internal/messaging"
	"github.com/agentgate/agentgate/internal/store"
	"github.com/agentgate/agentgate/pkg/contracts"
	"github.com/agentgate/agentgate/pkg/models"
	"github.com/google/uuid"
)

// fakeNotifier records deliveries and can fail selected recipients.
type fakeNotifier struct {
	mu      sync.Mutex
	sent    []string
	failFor map[string]bool
}

func (f *fakeNotifier) Notify(ctx context.Context, agentName string, event contracts.NotificationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, agentName)
	if f.failFor[agentName] {
		return context.DeadlineExceeded
	}
	return nil
}

func (f *fakeNotifier) sentTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakeMode struct{ mode string }

func (f *fakeMode) MessagingMode() string { return f.mode }

type fixture struct {
	store    *store.SQLiteStore
	notifier *fakeNotifier
	mode     *fakeMode
	engine   *messaging.Engine
}

func newFixture(t *testing.T, mode string) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "agentgate.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	n := &fakeNotifier{failFor: map[string]bool{}}
	m := &fakeMode{mode: mode}
	return &fixture{store: s, notifier: n, mode: m, engine: messaging.New(s, s, n, m)}
}

func (f *fixture) addAgent(t *testing.T, name, webhook string) {
	t.Helper()
	if err := f.store.CreateAgent(context.Background(), &models.Agent{
		ID: uuid.NewString(), Name: name, HashedKey: "x", KeyPrefix: "agk_" + name,
		WebhookURL: webhook, Enabled: true, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}
}

func kindOf(t *testing.T, err error) apierr.Kind {
	t.Helper()
	ae, ok := apierr.As(err)
	if !ok {
		t.Fatalf("error %v is not an *apierr.Error", err)
	}
	return ae.Kind
}

// ─── Send ────────────────────────────────────────────────────

func TestSendDisabledMode(t *testing.T) {
	f := newFixture(t, "off")
	f.addAgent(t, "bob", "")
	_, err := f.engine.Send(context.Background(), "alice", "bob", "hi")
	if got := kindOf(t, err); got != apierr.Forbidden {
		t.Errorf("error kind = %q, want forbidden", got)
	}
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t, "open")
	f.addAgent(t, "bob", "")
	ctx := context.Background()

	if _, err := f.engine.Send(ctx, "Bob", "bob", "self"); kindOf(t, err) != apierr.BadRequest {
		t.Error("case-insensitive self-send was allowed")
	}
	if _, err := f.engine.Send(ctx, "alice", "bob", strings.Repeat("x", 10*1024+1)); kindOf(t, err) != apierr.BadRequest {
		t.Error("oversized body was allowed")
	}
	if _, err := f.engine.Send(ctx, "alice", "ghost", "hi"); kindOf(t, err) != apierr.NotFound {
		t.Error("send to a missing recipient was allowed")
	}
}

func TestSendOpenDeliversImmediately(t *testing.T) {
	f := newFixture(t, "open")
	f.addAgent(t, "bob", "")

	msg, err := f.engine.Send(context.Background(), "alice", "bob", "hi")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if msg.Status != models.MessageDelivered || msg.DeliveredAt == nil {
		t.Errorf("open-mode message = %+v, want delivered", msg)
	}
}

func TestSendSupervisedPendsUntilApproved(t *testing.T) {
	f := newFixture(t, "supervised")
	f.addAgent(t, "c", "")
	ctx := context.Background()

	msg, err := f.engine.Send(ctx, "alice", "C", "hi")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if msg.Status != models.MessagePending {
		t.Fatalf("supervised send status = %q, want pending", msg.Status)
	}

	// The recipient's inbox stays empty while the message pends.
	inbox, err := f.engine.Inbox(ctx, "c", false)
	if err != nil {
		t.Fatalf("Inbox() error = %v", err)
	}
	if len(inbox) != 0 {
		t.Fatalf("pending message leaked into inbox: %+v", inbox)
	}

	if _, err := f.engine.Approve(ctx, msg.ID); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	inbox, _ = f.engine.Inbox(ctx, "c", false)
	if len(inbox) != 1 || inbox[0].Status != models.MessageDelivered {
		t.Errorf("inbox after approval = %+v", inbox)
	}

	// A second approval finds a non-pending message.
	if _, err := f.engine.Approve(ctx, msg.ID); kindOf(t, err) != apierr.IllegalState {
		t.Error("re-approval did not fail with illegal-state")
	}
}

func TestRejectRecordsReason(t *testing.T) {
	f := newFixture(t, "supervised")
	f.addAgent(t, "c", "")
	ctx := context.Background()

	msg, _ := f.engine.Send(ctx, "alice", "c", "spam")
	rejected, err := f.engine.Reject(ctx, msg.ID, "unwanted")
	if err != nil {
		t.Fatalf("Reject() error = %v", err)
	}
	if rejected.Status != models.MessageRejected || rejected.RejectionReason != "unwanted" {
		t.Errorf("rejected = %+v", rejected)
	}
}

func TestMarkReadOnceOnly(t *testing.T) {
	f := newFixture(t, "open")
	f.addAgent(t, "bob", "")
	ctx := context.Background()

	msg, _ := f.engine.Send(ctx, "alice", "bob", "hi")

	// Only the recipient may mark it read.
	if err := f.engine.MarkRead(ctx, msg.ID, "alice"); kindOf(t, err) != apierr.Forbidden {
		t.Error("sender marked the message read")
	}

	if err := f.engine.MarkRead(ctx, msg.ID, "BOB"); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	if err := f.engine.MarkRead(ctx, msg.ID, "bob"); kindOf(t, err) != apierr.NotFound {
		t.Error("second MarkRead() did not return not-found")
	}
}

// ─── Broadcast ───────────────────────────────────────────────

func TestBroadcastFanOutRecordsOutcomes(t *testing.T) {
	f := newFixture(t, "open")
	f.addAgent(t, "sender", "http://example.com/hook")
	f.addAgent(t, "good", "http://example.com/hook")
	f.addAgent(t, "bad", "http://example.com/hook")
	f.addAgent(t, "nohook", "")
	f.notifier.failFor["bad"] = true
	ctx := context.Background()

	res, err := f.engine.Broadcast(ctx, "sender", "all hands")
	if err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	if res.TotalRecipients != 2 {
		t.Errorf("TotalRecipients = %d, want 2 (sender and hookless agent excluded)", res.TotalRecipients)
	}
	if len(res.Delivered) != 1 || res.Delivered[0] != "good" {
		t.Errorf("Delivered = %v", res.Delivered)
	}
	if len(res.Failed) != 1 || res.Failed[0] != "bad" {
		t.Errorf("Failed = %v", res.Failed)
	}

	recipients, err := f.engine.BroadcastRecipients(ctx, res.BroadcastID)
	if err != nil {
		t.Fatalf("BroadcastRecipients() error = %v", err)
	}
	if len(recipients) != 2 {
		t.Fatalf("persisted %d recipient rows, want 2", len(recipients))
	}
	for _, rec := range recipients {
		want := models.RecipientDelivered
		if rec.ToAgent == "bad" {
			want = models.RecipientFailed
		}
		if rec.Status != want {
			t.Errorf("recipient %s status = %q, want %q", rec.ToAgent, rec.Status, want)
		}
		if rec.Status == models.RecipientFailed && rec.Error == "" {
			t.Errorf("failed recipient %s has no error text", rec.ToAgent)
		}
	}

	b, err := f.engine.GetBroadcast(ctx, res.BroadcastID)
	if err != nil {
		t.Fatalf("GetBroadcast() error = %v", err)
	}
	if b.TotalRecipients != 2 {
		t.Errorf("persisted TotalRecipients = %d", b.TotalRecipients)
	}
}

func TestBroadcastDisabledMode(t *testing.T) {
	f := newFixture(t, "off")
	if _, err := f.engine.Broadcast(context.Background(), "sender", "hi"); kindOf(t, err) != apierr.Forbidden {
		t.Error("broadcast succeeded with messaging off")
	}
}
