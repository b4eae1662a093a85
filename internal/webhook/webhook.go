package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"conectazap/internal/realtime"
)

// Service handles the messaging provider's webhook: the verification
// handshake and inbound event notifications. Events are logged and, when a
// broker is configured, republished for future ingestion; they are not
// persisted here.
type Service struct {
	verifyToken string
	pub         realtime.Publisher
	log         *slog.Logger
}

func NewService(verifyToken string, pub realtime.Publisher, log *slog.Logger) (*Service, error) {
	if strings.TrimSpace(verifyToken) == "" {
		return nil, errors.New("webhook: verify token must not be empty")
	}
	if pub == nil {
		pub = realtime.NewFallback(log)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{verifyToken: verifyToken, pub: pub, log: log}, nil
}

// VerifyChallenge implements the provider handshake: subscribe mode plus a
// matching token echoes the challenge back; anything else is rejected.
func (s *Service) VerifyChallenge(mode, token, challenge string) (string, bool) {
	if mode == "subscribe" && token == s.verifyToken {
		s.log.Info("webhook verified")
		return challenge, true
	}
	s.log.Warn("webhook verification failed", "mode", mode)
	return "", false
}

// HandleEvent accepts an inbound notification body. The body must be valid
// JSON; it is logged and forwarded to the event publisher.
func (s *Service) HandleEvent(ctx context.Context, body []byte) error {
	if !json.Valid(body) {
		return errors.New("webhook: event body is not valid JSON")
	}
	s.log.Info("inbound webhook event", "body", string(body))

	err := s.pub.Publish(ctx, "whatsapp.inbound", realtime.Event{
		Kind:    "whatsapp.inbound",
		Payload: json.RawMessage(body),
	})
	if err != nil {
		return fmt.Errorf("webhook: publish inbound event: %w", err)
	}
	return nil
}
