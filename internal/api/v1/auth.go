package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/delinoio/delidev/internal/auth"
)

type IssueWSTokenInput struct{}

type IssueWSTokenOutput struct {
	Body struct {
		Token string `json:"token" doc:"Short-lived token accepted by GET /ws/tasks/{id} in place of the API key"`
	}
}

// RegisterAuthRoutes exposes the one operation a websocket client needs
// before it can upgrade: swap its long-lived API key, already proven over
// this authenticated HTTP connection, for a token it can safely put in the
// handshake's Authorization header or query string without ever exposing
// the real key there.
func RegisterAuthRoutes(api huma.API, svc *auth.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "issue-ws-token",
		Method:      http.MethodPost,
		Path:        "/auth/ws-token",
		Summary:     "Issue a short-lived token for websocket reconnect",
		Tags:        []string{"Auth"},
	}, func(ctx context.Context, _ *IssueWSTokenInput) (*IssueWSTokenOutput, error) {
		token, err := svc.IssueReconnectToken()
		if err != nil {
			return nil, huma.Error400BadRequest("websocket reconnect tokens are not configured", err)
		}
		out := &IssueWSTokenOutput{}
		out.Body.Token = token
		return out, nil
	})
}
