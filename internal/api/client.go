/*
Package api is the client of the relay server's HTTP collaborator: registration, login and the
directory of registered users.

Every response uses the server's {code, message, data} envelope; non-zero codes surface as
*errs.CustomError so callers can branch with errs.HasCode.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"messenger/internal/app/user"
	"messenger/internal/pkg/auth/jwt"
	"messenger/internal/pkg/errs"
	"messenger/internal/pkg/logx"
	"messenger/internal/pkg/resp"
)

const defaultTimeout = 10 * time.Second

// Credentials is the identity issued by a successful register or login.
type Credentials struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

// ExpiresAt reports when the token stops being accepted, or the zero time if unknown.
func (c Credentials) ExpiresAt() time.Time {
	// Inspect still returns the claims of an expired token.
	payload, _ := jwt.Inspect(c.Token)
	if payload == nil {
		return time.Time{}
	}
	return payload.ExpiresAtTime()
}

// CredentialsInput is the body of register and login.
type CredentialsInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Client talks to the relay server's REST endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient constructs a Client for baseURL. A nil httpClient gets a default with a timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		logger:     logx.Component("APIClient"),
	}
}

// Register creates an account and returns its credentials.
func (c *Client) Register(ctx context.Context, username, password string) (Credentials, error) {
	return c.authenticate(ctx, "/api/auth/register", username, password)
}

// Login verifies the password of an existing account and returns its credentials.
func (c *Client) Login(ctx context.Context, username, password string) (Credentials, error) {
	return c.authenticate(ctx, "/api/auth/login", username, password)
}

func (c *Client) authenticate(ctx context.Context, path, username, password string) (Credentials, error) {
	if !user.ValidUsername(username) {
		return Credentials{}, errs.NewError(errs.ErrInvalidUsername)
	}
	if !user.ValidPassword(password) {
		return Credentials{}, errs.NewError(errs.ErrInvalidPassword)
	}

	var creds Credentials
	if err := c.do(ctx, http.MethodPost, path, "", CredentialsInput{Username: username, Password: password}, &creds); err != nil {
		return Credentials{}, err
	}

	if creds.Token == "" || creds.Username == "" {
		return Credentials{}, fmt.Errorf("%s: server returned incomplete credentials", path)
	}

	c.logger.Info().Str("username", creds.Username).Str("path", path).Msg("Authenticated.")
	return creds, nil
}

// Users lists every registered user. An expired token is rejected locally.
func (c *Client) Users(ctx context.Context, token string) ([]user.User, error) {
	if _, err := jwt.Inspect(token); errors.Is(err, jwt.ErrTokenExpired) {
		return nil, errs.NewError(errs.ErrTokenExpired)
	}

	var users []user.User
	if err := c.do(ctx, http.MethodGet, "/api/auth/users", token, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body, dst any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(raw)
	}

	var (
		httpReq *http.Request
		err     error
	)
	if reader != nil {
		httpReq, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	} else {
		httpReq, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	}
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("Request failed.")
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	if err := resp.Decode(res.Body, dst); err != nil {
		c.logger.Debug().Err(err).Str("path", path).Int("status", res.StatusCode).Msg("Request rejected.")
		return err
	}
	return nil
}
