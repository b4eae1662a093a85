package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"conectazap/internal/webhook"
)

// Handler adapts the webhook service to an API Gateway proxy Lambda.
type Handler struct {
	svc *webhook.Service
}

func NewHandler(svc *webhook.Service) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: webhook service must not be nil")
	}
	return &Handler{svc: svc}, nil
}

// Handle serves the verification GET and the event-delivery POST.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	switch req.HTTPMethod {
	case http.MethodGet:
		challenge, ok := h.svc.VerifyChallenge(
			req.QueryStringParameters["hub.mode"],
			req.QueryStringParameters["hub.verify_token"],
			req.QueryStringParameters["hub.challenge"],
		)
		if !ok {
			return textResponse(http.StatusForbidden, "Forbidden"), nil
		}
		return textResponse(http.StatusOK, challenge), nil

	case http.MethodPost:
		if err := h.svc.HandleEvent(ctx, []byte(req.Body)); err != nil {
			slog.Error("webhook event failed", "err", err)
			return textResponse(http.StatusInternalServerError, "Internal Server Error"), nil
		}
		return jsonResponse(http.StatusOK, `{"status":"success"}`), nil

	default:
		return textResponse(http.StatusMethodNotAllowed, "Method Not Allowed"), nil
	}
}

func textResponse(status int, body string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"content-type": "text/plain"},
		Body:       body,
	}
}

func jsonResponse(status int, body string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"content-type": "application/json"},
		Body:       body,
	}
}
