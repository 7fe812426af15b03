package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/scholarline/taskdesk/internal/domain/user"
)

// RegisterRequest holds the account signup fields.
type RegisterRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

type tokenResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// Login exchanges credentials for a token pair, persists it to the session
// and fetches the profile. Bad credentials do not clear an existing session.
func (c *Client) Login(ctx context.Context, username, password string) (user.User, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return user.User{}, fmt.Errorf("marshal credentials: %w", err)
	}

	data, err := c.doPublic(ctx, http.MethodPost, "/api/token/", body)
	if err != nil {
		return user.User{}, fmt.Errorf("login: %w", err)
	}

	var tok tokenResponse
	if err := json.Unmarshal(data, &tok); err != nil {
		return user.User{}, fmt.Errorf("unmarshal tokens: %w", err)
	}
	if tok.Access == "" {
		return user.User{}, errors.New("login: no access token in response")
	}
	if err := c.session.SetTokens(tok.Access, tok.Refresh); err != nil {
		return user.User{}, fmt.Errorf("persist tokens: %w", err)
	}

	u, err := c.User(ctx)
	if err != nil {
		return user.User{}, err
	}
	if err := c.session.SetUser(u); err != nil {
		return user.User{}, fmt.Errorf("persist user: %w", err)
	}
	return u, nil
}

// Refresh trades the stored refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context) error {
	refresh := c.session.RefreshToken()
	if refresh == "" {
		return errors.New("refresh: no refresh token")
	}

	body, err := json.Marshal(map[string]string{"refresh": refresh})
	if err != nil {
		return fmt.Errorf("marshal refresh: %w", err)
	}
	data, err := c.doPublic(ctx, http.MethodPost, "/api/token/refresh/", body)
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}

	var tok tokenResponse
	if err := json.Unmarshal(data, &tok); err != nil {
		return fmt.Errorf("unmarshal refresh: %w", err)
	}
	// Some backends do not rotate the refresh token; keep the old one then.
	return c.session.SetTokens(tok.Access, tok.Refresh)
}

// Register creates an account and logs straight in. Validation messages from
// the server are surfaced verbatim; registration is the one place raw error
// text is informative.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (user.User, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return user.User{}, fmt.Errorf("marshal registration: %w", err)
	}
	if _, err := c.doPublic(ctx, http.MethodPost, "/api/register/", body); err != nil {
		return user.User{}, fmt.Errorf("register: %w", err)
	}
	return c.Login(ctx, req.Username, req.Password)
}

// RequestPasswordReset starts the three-step password reset flow.
func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	body, _ := json.Marshal(map[string]string{"email": email})
	if _, err := c.doPublic(ctx, http.MethodPost, "/api/auth/password-reset/", body); err != nil {
		return fmt.Errorf("password reset: %w", err)
	}
	return nil
}

// ConfirmPasswordReset validates the emailed uid/token pair.
func (c *Client) ConfirmPasswordReset(ctx context.Context, uid, token string) error {
	body, _ := json.Marshal(map[string]string{"uid": uid, "token": token})
	if _, err := c.doPublic(ctx, http.MethodPost, "/api/auth/password-reset-confirm/", body); err != nil {
		return fmt.Errorf("password reset confirm: %w", err)
	}
	return nil
}

// CompletePasswordReset sets the new password for a validated uid/token pair.
func (c *Client) CompletePasswordReset(ctx context.Context, uid, token, newPassword string) error {
	body, _ := json.Marshal(map[string]string{
		"uid":      uid,
		"token":    token,
		"password": newPassword,
	})
	if _, err := c.doPublic(ctx, http.MethodPost, "/api/auth/password-reset-complete/", body); err != nil {
		return fmt.Errorf("password reset complete: %w", err)
	}
	return nil
}
