// Package push wakes devices that hold no live signaling connection.
// An incoming call is only as good as the callee's phone ringing: when a
// target is offline the offer goes out through FCM or APNs so the device
// can reconnect and pick up the call while it is still ringing.
package push

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"voxlink-backend/pkg/logger"
	"voxlink-backend/pkg/metrics"
)

// TokenType identifies the push transport a token belongs to
type TokenType string

const (
	TokenTypeFCM  TokenType = "fcm"
	TokenTypeAPNs TokenType = "apns"
)

// Token is one registered device token
type Token struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	Type      TokenType `json:"type"`
	DeviceID  string    `json:"device_id,omitempty"`
	Platform  string    `json:"platform,omitempty"` // ios, android
	Active    bool      `json:"active"`
	CreatedAt int64     `json:"created_at"`
	UpdatedAt int64     `json:"updated_at"`
}

// Notification is a transport-neutral push payload
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"`
	Sound    string            `json:"sound,omitempty"`
	Category string            `json:"category,omitempty"`
}

// SendResult aggregates a multi-token send
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
	Errors        []error
}

// Provider is one push transport
type Provider interface {
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

// TokenRepository stores device tokens
type TokenRepository interface {
	Store(ctx context.Context, token *Token) error
	GetByToken(ctx context.Context, token string) (*Token, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]*Token, error)
	Update(ctx context.Context, token *Token) error
	Delete(ctx context.Context, userID uuid.UUID, token string) error
	DeleteByUserID(ctx context.Context, userID uuid.UUID) error
}

// CallOfferData is the payload of an incoming-call wake-up
type CallOfferData struct {
	CallID      uuid.UUID `json:"call_id"`
	ChannelID   string    `json:"channel_id"`
	InitiatorID uuid.UUID `json:"initiator_id"`
	CallerName  string    `json:"caller_name"`
	MediaKind   string    `json:"media_kind"`
	CallKind    string    `json:"call_kind"`
	Title       string    `json:"title,omitempty"`
	Timestamp   int64     `json:"timestamp"`
}

// Service routes notifications to the provider matching each token's type
type Service struct {
	providers map[TokenType]Provider
	repo      TokenRepository
	metrics   *metrics.Metrics
}

// NewService creates a push service. metrics may be nil.
func NewService(repo TokenRepository, m *metrics.Metrics) *Service {
	return &Service{
		providers: make(map[TokenType]Provider),
		repo:      repo,
		metrics:   m,
	}
}

// RegisterProvider attaches a transport for one token type
func (s *Service) RegisterProvider(t TokenType, p Provider) {
	s.providers[t] = p
}

// RegisterToken stores or reactivates a device token
func (s *Service) RegisterToken(ctx context.Context, token *Token) error {
	existing, err := s.repo.GetByToken(ctx, token.Token)
	if err == nil && existing != nil {
		existing.Active = true
		existing.UpdatedAt = time.Now().Unix()
		existing.DeviceID = token.DeviceID
		existing.Platform = token.Platform
		return s.repo.Update(ctx, existing)
	}
	return s.repo.Store(ctx, token)
}

// UnregisterToken removes one device token
func (s *Service) UnregisterToken(ctx context.Context, userID uuid.UUID, tokenStr string) error {
	return s.repo.Delete(ctx, userID, tokenStr)
}

// UnregisterAllTokens removes every token of a user, for account sign-out
func (s *Service) UnregisterAllTokens(ctx context.Context, userID uuid.UUID) error {
	return s.repo.DeleteByUserID(ctx, userID)
}

// SendCallOffer wakes all of a user's registered devices with an incoming
// call. Tokens the transport reports invalid are pruned.
func (s *Service) SendCallOffer(ctx context.Context, userID uuid.UUID, data *CallOfferData) error {
	tokens, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load push tokens: %w", err)
	}

	byType := make(map[TokenType][]string)
	for _, t := range tokens {
		if t.Active {
			byType[t.Type] = append(byType[t.Type], t.Token)
		}
	}
	if len(byType) == 0 {
		return nil
	}

	notification := &Notification{
		Title:    "Incoming call",
		Body:     fmt.Sprintf("%s is calling you", data.CallerName),
		Priority: "high",
		Sound:    "default",
		Category: "INCOMING_CALL",
		Data: map[string]string{
			"type":         "call-offered",
			"call_id":      data.CallID.String(),
			"channel_id":   data.ChannelID,
			"initiator_id": data.InitiatorID.String(),
			"caller_name":  data.CallerName,
			"media_kind":   data.MediaKind,
			"call_kind":    data.CallKind,
			"title":        data.Title,
			"timestamp":    fmt.Sprintf("%d", data.Timestamp),
		},
	}

	var lastErr error
	for tokenType, tokenStrs := range byType {
		provider, ok := s.providers[tokenType]
		if !ok {
			continue
		}

		result, err := provider.Send(ctx, notification, tokenStrs)
		if err != nil {
			lastErr = err
			if s.metrics != nil {
				s.metrics.RecordPushFailed(string(tokenType))
			}
			logger.Warn("push send failed",
				zap.String("provider", string(tokenType)),
				zap.String("user_id", userID.String()),
				zap.Error(err))
			continue
		}

		if s.metrics != nil {
			for i := 0; i < result.SuccessCount; i++ {
				s.metrics.RecordPushSent(string(tokenType))
			}
			for i := 0; i < result.FailureCount; i++ {
				s.metrics.RecordPushFailed(string(tokenType))
			}
		}

		for _, invalid := range result.InvalidTokens {
			if err := s.repo.Delete(ctx, userID, invalid); err != nil {
				logger.Warn("failed to prune invalid push token",
					zap.String("user_id", userID.String()),
					zap.Error(err))
			}
		}
	}

	return lastErr
}

// maskPushToken keeps logs free of full device tokens
func maskPushToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:8] + "****"
}
