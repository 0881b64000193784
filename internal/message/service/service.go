// Package service implements inter-session mail: rate-limited, sanitized
// send, inbox delivery-state transitions, and TTL-driven expiry (spec §4.7).
package service

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/kandev/maestro/internal/common/apperrors"
	"github.com/kandev/maestro/internal/common/idgen"
	"github.com/kandev/maestro/internal/common/logger"
	"github.com/kandev/maestro/internal/events"
	"github.com/kandev/maestro/internal/events/bus"
	"github.com/kandev/maestro/internal/message/models"
)

const maxBodyLength = 4000

// Repository is the persistence contract the service depends on.
type Repository interface {
	Put(m *models.Message) error
	Get(id string) (*models.Message, bool)
	Inbox(sessionID string) []*models.Message
	List() []*models.Message
	Delete(id string) error
	DeleteBySession(sessionID string) error
}

// SessionInfo is the subset of a session's state message delivery needs.
type SessionInfo struct {
	ProjectID string
	Terminal  bool
}

// SessionLookup lets the message service validate sessions and detect
// offline/terminal receivers without importing the session package.
type SessionLookup interface {
	Lookup(sessionID string) (SessionInfo, bool)
}

// TimelineNotifier lets the message service tell a sender their message
// expired against a terminal receiver, without importing the session
// package's service directly.
type TimelineNotifier interface {
	NotifyExpired(ctx context.Context, sessionID, messageID string) error
}

// Service is the message use-case layer.
type Service struct {
	repo     Repository
	sessions SessionLookup
	notifier TimelineNotifier
	bus      bus.EventBus
	logger   *logger.Logger

	rateLimitPerMinute int
	ttl                time.Duration

	rateMu sync.Mutex
	sent   map[string][]time.Time
}

// New constructs a Service. rateLimitPerMinute caps messages a single sender
// may send per rolling 60s window; ttl is the uniform expiry applied to
// every message at send time.
func New(repo Repository, sessions SessionLookup, eventBus bus.EventBus, log *logger.Logger, rateLimitPerMinute int, ttl time.Duration) *Service {
	return &Service{
		repo:               repo,
		sessions:           sessions,
		bus:                eventBus,
		logger:             log,
		rateLimitPerMinute: rateLimitPerMinute,
		ttl:                ttl,
		sent:               make(map[string][]time.Time),
	}
}

// SetNotifier wires the cross-domain timeline-notification callback used
// when a message is delivered to a terminal-state receiver.
func (s *Service) SetNotifier(n TimelineNotifier) {
	s.notifier = n
}

// Send validates both sessions, enforces the sender's rate limit, sanitizes
// the body, and creates a pending message. If the receiver is already in a
// terminal state the message is created and then immediately expired, and
// the sender is notified via timeline instead of the receiver ever seeing it
// in their inbox (spec §8 edge case).
func (s *Service) Send(ctx context.Context, fromSessionID, toSessionID, body string, metadata models.Metadata) (*models.Message, error) {
	if fromSessionID == "" || toSessionID == "" {
		return nil, apperrors.Validation("from and to session ids are required")
	}

	fromInfo, ok := s.sessions.Lookup(fromSessionID)
	if !ok {
		return nil, apperrors.NotFound("session", fromSessionID)
	}
	if fromInfo.Terminal {
		return nil, apperrors.Forbidden("sender session is in a terminal state")
	}
	toInfo, ok := s.sessions.Lookup(toSessionID)
	if !ok {
		return nil, apperrors.NotFound("session", toSessionID)
	}
	if fromInfo.ProjectID != toInfo.ProjectID {
		return nil, apperrors.Forbidden("cross-project messages are not permitted")
	}

	if err := s.checkRateLimit(fromSessionID); err != nil {
		return nil, err
	}

	clean := sanitize(body)
	if clean == "" {
		return nil, apperrors.Validation("body is required")
	}

	now := time.Now().UTC()
	msg := &models.Message{
		ID:        idgen.New(idgen.Message),
		From:      fromSessionID,
		To:        toSessionID,
		Body:      clean,
		Status:    models.StatusPending,
		CreatedAt: now,
		Metadata:  metadata,
	}
	if s.ttl > 0 {
		expiresAt := now.Add(s.ttl)
		msg.ExpiresAt = &expiresAt
	}

	if err := s.repo.Put(msg); err != nil {
		return nil, apperrors.Internal("failed to persist message", err)
	}

	s.publish(ctx, events.MessageCreated, msg)
	s.publishToReceiver(ctx, msg)

	if toInfo.Terminal {
		if err := s.expire(ctx, msg); err != nil {
			s.logger.Warn("failed to expire message against terminal receiver", zap.String("message_id", msg.ID), zap.Error(err))
		}
	}

	return msg.Clone(), nil
}

// checkRateLimit enforces a best-effort sliding 60s window per sender.
func (s *Service) checkRateLimit(sessionID string) error {
	if s.rateLimitPerMinute <= 0 {
		return nil
	}
	s.rateMu.Lock()
	defer s.rateMu.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Minute)
	window := s.sent[sessionID]
	pruned := window[:0]
	for _, t := range window {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}
	if len(pruned) >= s.rateLimitPerMinute {
		s.sent[sessionID] = pruned
		return apperrors.RateLimited("sender exceeded the message rate limit")
	}
	s.sent[sessionID] = append(pruned, now)
	return nil
}

// InboxFilter narrows Inbox.
type InboxFilter struct {
	MarkRead bool
}

// Inbox returns every message addressed to sessionID, transitioning any
// still-pending messages to delivered on this fetch. If filter.MarkRead is
// set, delivered messages are additionally transitioned to read.
func (s *Service) Inbox(ctx context.Context, sessionID string, filter InboxFilter) ([]*models.Message, error) {
	messages := s.repo.Inbox(sessionID)
	out := make([]*models.Message, 0, len(messages))
	now := time.Now().UTC()

	for _, m := range messages {
		updated := m.Clone()
		changed := false

		if updated.Status == models.StatusPending {
			updated.Status = models.StatusDelivered
			updated.DeliveredAt = &now
			changed = true
		}
		if filter.MarkRead && updated.Status == models.StatusDelivered {
			updated.Status = models.StatusRead
			updated.ReadAt = &now
			changed = true
		}

		if changed {
			if err := s.repo.Put(updated); err != nil {
				return nil, apperrors.Internal("failed to persist message", err)
			}
			eventType := events.MessageDelivered
			if updated.Status == models.StatusRead {
				eventType = events.MessageRead
			}
			s.publish(ctx, eventType, updated)
		}

		out = append(out, updated)
	}
	return out, nil
}

// Delete removes a message.
func (s *Service) Delete(messageID string) error {
	if _, ok := s.repo.Get(messageID); !ok {
		return apperrors.NotFound("message", messageID)
	}
	if err := s.repo.Delete(messageID); err != nil {
		return apperrors.Internal("failed to delete message", err)
	}
	return nil
}

// DeleteBySession removes every message addressed to sessionID, used during
// project/session cascade delete.
func (s *Service) DeleteBySession(sessionID string) error {
	if err := s.repo.DeleteBySession(sessionID); err != nil {
		return apperrors.Internal("failed to delete session messages", err)
	}
	return nil
}

// SweepExpired marks every pending or delivered message past its TTL as
// expired and notifies each sender via timeline. Called periodically by a
// Sweeper and safe to call directly from tests.
func (s *Service) SweepExpired(ctx context.Context) {
	now := time.Now().UTC()
	for _, m := range s.repo.List() {
		if m.Status == models.StatusExpired || m.Status == models.StatusRead {
			continue
		}
		if !m.Expired(now) {
			continue
		}
		if err := s.expire(ctx, m); err != nil {
			s.logger.Warn("failed to expire message", zap.String("message_id", m.ID), zap.Error(err))
		}
	}
}

func (s *Service) expire(ctx context.Context, m *models.Message) error {
	updated := m.Clone()
	updated.Status = models.StatusExpired
	if err := s.repo.Put(updated); err != nil {
		return err
	}
	if s.notifier != nil {
		if err := s.notifier.NotifyExpired(ctx, updated.From, updated.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, eventType string, m *models.Message) {
	payload := events.MessagePayload{
		MessageID:   m.ID,
		SessionID:   m.To,
		FromSession: m.From,
		ToSession:   m.To,
		SentAt:      m.CreatedAt,
	}
	event := bus.NewEvent(eventType, "message", events.ToData(payload))
	if err := s.bus.Publish(ctx, events.MessageSubject(m.ID), event); err != nil {
		s.logger.Error("failed to publish message event", zap.String("type", eventType), zap.Error(err))
	}
}

// publishToReceiver additionally routes message:created to the receiver's
// own session subject, so a client watching one session learns about new
// mail without subscribing to every message in the system.
func (s *Service) publishToReceiver(ctx context.Context, m *models.Message) {
	payload := events.MessagePayload{
		MessageID:   m.ID,
		SessionID:   m.To,
		FromSession: m.From,
		ToSession:   m.To,
		SentAt:      m.CreatedAt,
	}
	event := bus.NewEvent(events.SessionMessageReceived, "message", events.ToData(payload))
	if err := s.bus.Publish(ctx, events.SessionSubject(m.To), event); err != nil {
		s.logger.Error("failed to publish session:message_received", zap.Error(err))
	}
}

// sanitize strips control characters (except common whitespace) and caps
// length.
func sanitize(body string) string {
	var b strings.Builder
	for _, r := range body {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	clean := strings.TrimSpace(b.String())
	if len(clean) > maxBodyLength {
		clean = clean[:maxBodyLength]
	}
	return clean
}
