package fetch

import (
	"context"
	"net/http"
	"strings"

	"github.com/afroash/krishii-mitra/internal/models"
)

// ChatClient talks to the farming assistant
type ChatClient struct {
	client  *Client
	baseURL string
}

// NewChatClient creates an assistant client
func NewChatClient(client *Client, baseURL string) *ChatClient {
	return &ChatClient{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

type chatRequest struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type chatResponse struct {
	Status   string `json:"status"`
	Response string `json:"response"`
	Message  string `json:"message"`
}

// Ask sends one text message and returns the assistant reply
func (c *ChatClient) Ask(ctx context.Context, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", requiredField("message")
	}

	var resp chatResponse
	err := c.client.do(ctx, "chat", jsonRequest(http.MethodPost, c.baseURL+"/api/chat", chatRequest{Message: message, Type: "text"}), &resp)
	if err != nil {
		return "", err
	}
	if resp.Status == "error" {
		return "", assistantError(resp.Message)
	}
	return resp.Response, nil
}

func requiredField(field string) error {
	verr := &models.ValidationError{}
	verr.Add(field, "is required")
	return verr
}

// assistantError maps an in-band error reply onto a ServerError
func assistantError(message string) error {
	if message == "" {
		message = "Assistant could not answer"
	}
	return &models.ServerError{Op: "chat", StatusCode: http.StatusOK, Message: message}
}
