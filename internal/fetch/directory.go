package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/afroash/krishii-mitra/internal/models"
)

var errMissingEmail = errors.New("user has no email address")

// DirectoryUser is a user as the identity provider knows them
type DirectoryUser struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
}

// DirectoryClient looks users up in the identity provider's backend API
type DirectoryClient struct {
	client    *Client
	baseURL   string
	secretKey string
}

// NewDirectoryClient creates a directory client authenticated with secretKey
func NewDirectoryClient(client *Client, baseURL, secretKey string) *DirectoryClient {
	return &DirectoryClient{client: client, baseURL: strings.TrimRight(baseURL, "/"), secretKey: secretKey}
}

type directoryUser struct {
	ID             string `json:"id"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	EmailAddresses []struct {
		EmailAddress string `json:"email_address"`
	} `json:"email_addresses"`
}

// GetUser fetches one user by id. A user without an email address is a ParseError.
func (d *DirectoryClient) GetUser(ctx context.Context, id string) (*DirectoryUser, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, requiredField("clerkUserId")
	}

	build := withBearer(jsonRequest(http.MethodGet, d.baseURL+"/users/"+url.PathEscape(id), nil), d.secretKey)

	var raw directoryUser
	if err := d.client.do(ctx, "directory_user", build, &raw); err != nil {
		return nil, err
	}
	if len(raw.EmailAddresses) == 0 || raw.EmailAddresses[0].EmailAddress == "" {
		return nil, &models.ParseError{Op: "directory_user", Err: errMissingEmail}
	}

	userID := raw.ID
	if userID == "" {
		userID = id
	}
	return &DirectoryUser{
		ID:        userID,
		Email:     raw.EmailAddresses[0].EmailAddress,
		FirstName: raw.FirstName,
		LastName:  raw.LastName,
	}, nil
}

// withBearer adds an Authorization header to the request build produces
func withBearer(build requestBuilder, token string) requestBuilder {
	return func(ctx context.Context) (*http.Request, error) {
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return req, nil
	}
}
