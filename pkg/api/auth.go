package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/plagctl/pkg/session"
)

// Login exchanges credentials for tokens and persists the new session.
//
// The user profile is fetched with Me; a failure there leaves the session
// authenticated without a profile.
func (c *Client) Login(ctx context.Context, creds Credentials) (session.Session, error) {
	return c.authenticate(ctx, "Login", "auth/login", creds)
}

// Register creates an account and persists the new session.
func (c *Client) Register(ctx context.Context, creds Credentials) (session.Session, error) {
	return c.authenticate(ctx, "Register", "auth/register", creds)
}

func (c *Client) authenticate(ctx context.Context, op, path string, creds Credentials) (session.Session, error) {
	creds.Email = strings.TrimSpace(creds.Email)
	if creds.Email == "" || creds.Password == "" {
		return session.Session{}, fmt.Errorf("email and password are required")
	}

	var tok Token
	if err := c.sendJSON(ctx, op, http.MethodPost, path, nil, creds, &tok); err != nil {
		return session.Session{}, err
	}
	if tok.AccessToken == "" {
		return session.Session{}, &TransportError{Op: op, Err: fmt.Errorf("%w: missing access_token", ErrInvalidResponse)}
	}

	sess := c.sessionFromToken(tok)
	if err := c.session.Save(sess); err != nil {
		return session.Session{}, fmt.Errorf("save session: %w", err)
	}

	if _, err := c.Me(ctx); err != nil {
		c.logger.Debug("Profile fetch after login failed", zap.Error(err))
	}
	return c.session.Current(), nil
}

// Refresh exchanges the stored refresh token for a new token pair.
func (c *Client) Refresh(ctx context.Context) (session.Session, error) {
	cur := c.session.Current()
	if cur.RefreshToken == "" {
		return session.Session{}, session.ErrNotAuthenticated
	}

	var tok Token
	body := map[string]string{"refresh_token": cur.RefreshToken}
	if err := c.sendJSON(ctx, "Refresh", http.MethodPost, "auth/refresh", nil, body, &tok); err != nil {
		return session.Session{}, err
	}
	if tok.AccessToken == "" {
		return session.Session{}, &TransportError{Op: "Refresh", Err: fmt.Errorf("%w: missing access_token", ErrInvalidResponse)}
	}

	next := c.sessionFromToken(tok)
	if next.RefreshToken == "" {
		next.RefreshToken = cur.RefreshToken
	}
	next.User = cur.User
	if err := c.session.Save(next); err != nil {
		return session.Session{}, fmt.Errorf("save session: %w", err)
	}
	return c.session.Current(), nil
}

// Me fetches the current user profile and stores it in the session.
func (c *Client) Me(ctx context.Context) (*session.User, error) {
	if _, err := c.session.Token(); err != nil {
		return nil, err
	}
	var u session.User
	if err := c.getJSON(ctx, "Me", "auth/me", nil, &u); err != nil {
		return nil, err
	}
	if err := c.session.SetUser(u); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return &u, nil
}

// Logout notifies the backend (best effort) and clears the local session.
func (c *Client) Logout(ctx context.Context) error {
	if _, err := c.session.Token(); err == nil {
		if err := c.sendJSON(ctx, "Logout", http.MethodPost, "auth/logout", nil, nil, nil); err != nil {
			c.logger.Debug("Backend logout failed", zap.Error(err))
		}
	}
	return c.session.Clear()
}

func (c *Client) sessionFromToken(tok Token) session.Session {
	tokenType := tok.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}
	return session.Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tokenType,
		BaseURL:      c.BaseURL(),
		SavedAt:      time.Now().UTC(),
	}
}
