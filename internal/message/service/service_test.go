package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kandev/maestro/internal/common/logger"
	"github.com/kandev/maestro/internal/events"
	"github.com/kandev/maestro/internal/events/bus"
	"github.com/kandev/maestro/internal/message/models"
	"github.com/kandev/maestro/internal/message/repository"
)

type fakeSessionLookup struct {
	sessions map[string]SessionInfo
}

func (f *fakeSessionLookup) Lookup(sessionID string) (SessionInfo, bool) {
	info, ok := f.sessions[sessionID]
	return info, ok
}

type fakeNotifier struct {
	notified []string
}

func (f *fakeNotifier) NotifyExpired(_ context.Context, sessionID, _ string) error {
	f.notified = append(f.notified, sessionID)
	return nil
}

func newTestService(t *testing.T, lookup *fakeSessionLookup, rateLimit int, ttl time.Duration) (*Service, bus.EventBus) {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	eventBus := bus.NewMemoryEventBus(log)

	repo := repository.New(t.TempDir(), log)
	if err := repo.Initialize(); err != nil {
		t.Fatalf("initialize repository: %v", err)
	}
	return New(repo, lookup, eventBus, log, rateLimit, ttl), eventBus
}

func twoSessionLookup() *fakeSessionLookup {
	return &fakeSessionLookup{sessions: map[string]SessionInfo{
		"sess_a": {ProjectID: "p1"},
		"sess_b": {ProjectID: "p1"},
	}}
}

func TestSendRejectsCrossProjectMessages(t *testing.T) {
	lookup := &fakeSessionLookup{sessions: map[string]SessionInfo{
		"sess_a": {ProjectID: "p1"},
		"sess_b": {ProjectID: "p2"},
	}}
	svc, _ := newTestService(t, lookup, 0, time.Hour)

	_, err := svc.Send(context.Background(), "sess_a", "sess_b", "hello", models.Metadata{})
	if err == nil {
		t.Fatalf("expected cross-project send to be rejected")
	}
}

func TestSendRejectsFromTerminalSender(t *testing.T) {
	lookup := &fakeSessionLookup{sessions: map[string]SessionInfo{
		"sess_a": {ProjectID: "p1", Terminal: true},
		"sess_b": {ProjectID: "p1"},
	}}
	svc, _ := newTestService(t, lookup, 0, time.Hour)

	if _, err := svc.Send(context.Background(), "sess_a", "sess_b", "hello", models.Metadata{}); err == nil {
		t.Fatalf("expected send from a terminal session to be rejected")
	}
}

func TestSendSanitizesAndTrimsBody(t *testing.T) {
	svc, _ := newTestService(t, twoSessionLookup(), 0, time.Hour)

	msg, err := svc.Send(context.Background(), "sess_a", "sess_b", "  hello\x00world  ", models.Metadata{})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if strings.Contains(msg.Body, "\x00") {
		t.Fatalf("expected control characters to be stripped, got %q", msg.Body)
	}
	if msg.Body != strings.TrimSpace(msg.Body) {
		t.Fatalf("expected body to be trimmed, got %q", msg.Body)
	}
}

func TestSendRejectsEmptyBodyAfterSanitizing(t *testing.T) {
	svc, _ := newTestService(t, twoSessionLookup(), 0, time.Hour)

	if _, err := svc.Send(context.Background(), "sess_a", "sess_b", "   \x00\x00  ", models.Metadata{}); err == nil {
		t.Fatalf("expected an all-control-character body to be rejected")
	}
}

func TestSendEnforcesRateLimit(t *testing.T) {
	svc, _ := newTestService(t, twoSessionLookup(), 2, time.Hour)

	for i := 0; i < 2; i++ {
		if _, err := svc.Send(context.Background(), "sess_a", "sess_b", "hi", models.Metadata{}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if _, err := svc.Send(context.Background(), "sess_a", "sess_b", "hi", models.Metadata{}); err == nil {
		t.Fatalf("expected the 3rd send within the window to be rate limited")
	}
}

func TestSendToTerminalReceiverExpiresAndNotifiesSender(t *testing.T) {
	lookup := &fakeSessionLookup{sessions: map[string]SessionInfo{
		"sess_a": {ProjectID: "p1"},
		"sess_b": {ProjectID: "p1", Terminal: true},
	}}
	svc, _ := newTestService(t, lookup, 0, time.Hour)
	notifier := &fakeNotifier{}
	svc.SetNotifier(notifier)

	msg, err := svc.Send(context.Background(), "sess_a", "sess_b", "hello", models.Metadata{})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Status != models.StatusExpired {
		t.Fatalf("expected the persisted message to be immediately expired, got %s", msg.Status)
	}
	if len(notifier.notified) != 1 || notifier.notified[0] != "sess_a" {
		t.Fatalf("expected the sender to be notified of expiry, got %v", notifier.notified)
	}
}

func TestInboxDeliversThenReads(t *testing.T) {
	svc, _ := newTestService(t, twoSessionLookup(), 0, time.Hour)
	msg, err := svc.Send(context.Background(), "sess_a", "sess_b", "hello", models.Metadata{})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	delivered, err := svc.Inbox(context.Background(), "sess_b", InboxFilter{})
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	if len(delivered) != 1 || delivered[0].ID != msg.ID {
		t.Fatalf("expected exactly the one sent message, got %v", delivered)
	}
	if delivered[0].Status != models.StatusDelivered {
		t.Fatalf("expected status delivered, got %s", delivered[0].Status)
	}

	read, err := svc.Inbox(context.Background(), "sess_b", InboxFilter{MarkRead: true})
	if err != nil {
		t.Fatalf("inbox (mark read): %v", err)
	}
	if read[0].Status != models.StatusRead {
		t.Fatalf("expected status read, got %s", read[0].Status)
	}
}

func TestSendPublishesEventsScopedToTheReceivingSession(t *testing.T) {
	svc, eventBus := newTestService(t, twoSessionLookup(), 0, time.Hour)

	var createdSessionID, receivedSessionID string
	if _, err := eventBus.Subscribe(events.AllSubject(), func(_ context.Context, ev *bus.Event) error {
		switch ev.Type {
		case events.MessageCreated:
			createdSessionID, _ = ev.Data["sessionId"].(string)
		case events.SessionMessageReceived:
			receivedSessionID, _ = ev.Data["sessionId"].(string)
		}
		return nil
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if _, err := svc.Send(context.Background(), "sess_a", "sess_b", "hello", models.Metadata{}); err != nil {
		t.Fatalf("send: %v", err)
	}

	if createdSessionID != "sess_b" {
		t.Fatalf("expected message:created to carry sessionId %q, got %q", "sess_b", createdSessionID)
	}
	if receivedSessionID != "sess_b" {
		t.Fatalf("expected session:message_received to carry sessionId %q, got %q", "sess_b", receivedSessionID)
	}
}

func TestSweepExpiredNotifiesSenderPastTTL(t *testing.T) {
	svc, _ := newTestService(t, twoSessionLookup(), 0, -time.Second)
	notifier := &fakeNotifier{}
	svc.SetNotifier(notifier)

	if _, err := svc.Send(context.Background(), "sess_a", "sess_b", "hello", models.Metadata{}); err != nil {
		t.Fatalf("send: %v", err)
	}

	svc.SweepExpired(context.Background())

	if len(notifier.notified) != 1 || notifier.notified[0] != "sess_a" {
		t.Fatalf("expected sweep to notify the sender once, got %v", notifier.notified)
	}
}
