package gemini

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/imroc/req/v3"
)

// TokenURL is Google's OAuth2 token endpoint, used for the refresh_token
// grant the pool issues on every expiring token (spec.md §4.1 "Token
// refresh"). Account linking/consent is out of scope (spec Non-goals), so
// this package carries no authorization-code or PKCE machinery.
const TokenURL = "https://oauth2.googleapis.com/token"

// TokenResponse is Google's token-endpoint response shape, shared by the
// authorization_code exchange and the refresh_token grant.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

type tokenErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Refresher exchanges a refresh_token for a fresh access_token against
// Google's OAuth2 token endpoint. It implements the pool's TokenRefresher
// port (C2 in spec.md §4, "AuthTokenRefresher").
type Refresher struct {
	ClientID     string
	ClientSecret string
	client       *req.Client
}

// NewRefresher builds a Refresher sharing the given req client's transport
// (proxy, TLS) configuration so refresh calls see the same network path as
// generation calls.
func NewRefresher(clientID, clientSecret string, client *req.Client) *Refresher {
	if client == nil {
		client = req.C()
	}
	return &Refresher{ClientID: clientID, ClientSecret: clientSecret, client: client}
}

// Refresh performs the refresh_token grant and returns the new token
// response. Callers are responsible for persisting AccessToken/ExpiresIn
// (and RefreshToken, when Google rotates it) back onto the Account.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", r.ClientID)
	form.Set("client_secret", r.ClientSecret)
	form.Set("refresh_token", refreshToken)

	var out TokenResponse
	var errBody tokenErrorBody
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(form.Encode()).
		SetSuccessResult(&out).
		SetErrorResult(&errBody).
		Post(TokenURL)
	if err != nil {
		return nil, fmt.Errorf("refresh token request: %w", err)
	}
	if resp.IsErrorState() {
		if errBody.Error != "" {
			return nil, fmt.Errorf("refresh token: %s: %s", errBody.Error, errBody.ErrorDescription)
		}
		return nil, fmt.Errorf("refresh token: upstream status %d", resp.StatusCode)
	}
	return &out, nil
}

// ExpiryFromNow converts a token response's ExpiresIn into the absolute
// unix-seconds deadline model.Token.ExpiryTimestamp stores.
func ExpiryFromNow(resp *TokenResponse, now time.Time) int64 {
	return now.Add(time.Duration(resp.ExpiresIn) * time.Second).Unix()
}

// idTokenClaims is the subset of Google's id_token payload the pool cares
// about: the account email a refresh actually authenticated as.
type idTokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// EmailFromIDToken reads the email claim out of a refresh response's
// id_token without verifying Google's signature — the token already arrived
// over the TLS-authenticated token endpoint, so this is a same-account sanity
// check (catching a refresh_token swapped onto the wrong Account row), not an
// authentication decision.
func EmailFromIDToken(idToken string) (string, error) {
	if idToken == "" {
		return "", fmt.Errorf("empty id_token")
	}
	var claims idTokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, &claims); err != nil {
		return "", fmt.Errorf("parse id_token: %w", err)
	}
	return claims.Email, nil
}
