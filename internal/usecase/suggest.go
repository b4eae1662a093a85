package usecase

import (
	"context"
	"errors"
	"strings"
)

// SuggestionClient is the single-operation boundary to the text-generation
// endpoint. One stateless call per suggestion; no retries, no streaming, no
// conversation memory.
type SuggestionClient interface {
	Suggest(ctx context.Context, customerMessage string) (string, error)
}

// SuggestService produces a proposed reply from the most recent inbound
// customer message.
type SuggestService struct {
	llm SuggestionClient
}

func NewSuggestService(llm SuggestionClient) (*SuggestService, error) {
	if llm == nil {
		return nil, errors.New("usecase: suggestion client must not be nil")
	}
	return &SuggestService{llm: llm}, nil
}

// Suggest calls the remote endpoint with the customer's message. An empty
// input is refused locally; callers surface "no customer message available"
// without any network traffic. On failure the caller's composer content is
// left exactly as it was.
func (s *SuggestService) Suggest(ctx context.Context, customerMessage string) (string, error) {
	customerMessage = strings.TrimSpace(customerMessage)
	if customerMessage == "" {
		return "", newError(ErrorSuggestion, "no_customer_message", nil)
	}

	reply, err := s.llm.Suggest(ctx, customerMessage)
	if err != nil {
		return "", newError(ErrorSuggestion, "suggestion_request_error", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", newError(ErrorSuggestion, "empty_suggestion", nil)
	}
	return reply, nil
}
