package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ecan-labs/ecan/internal/interfaces"
	"github.com/ecan-labs/ecan/internal/models"
)

const (
	googleAuthEndpoint  = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenEndpoint = "https://oauth2.googleapis.com/token"
)

// directGoogle reports whether the direct Google OAuth path is configured.
// The hosted-UI variant through the provider's domain is the default; a
// dedicated Google client id switches to Google's own endpoints. Both are
// equivalent from the auth manager's perspective.
func (c *Client) directGoogle() bool {
	return c.auth.Google.ClientID != ""
}

// HostedGoogleURL builds the authorization URL for the federated Google flow.
func (c *Client) HostedGoogleURL(redirectURI string, pkce interfaces.PKCEParams) string {
	endpoint := strings.TrimRight(c.auth.HostedDomain, "/") + "/oauth2/authorize"
	clientID := c.auth.ClientID
	if c.directGoogle() {
		endpoint = googleAuthEndpoint
		clientID = c.auth.Google.ClientID
	}

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("scope", "openid profile email")
	if !c.directGoogle() {
		q.Set("identity_provider", "Google")
	}
	if pkce.Challenge != "" {
		q.Set("code_challenge", pkce.Challenge)
		q.Set("code_challenge_method", pkce.Method)
	}
	if pkce.State != "" {
		q.Set("state", pkce.State)
	}
	return endpoint + "?" + q.Encode()
}

// ExchangeCode performs the back-channel authorization-code exchange.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*models.TokenBundle, error) {
	endpoint := strings.TrimRight(c.auth.HostedDomain, "/") + "/oauth2/token"
	clientID, clientSecret := c.auth.ClientID, c.auth.ClientSecret
	if c.directGoogle() {
		endpoint = googleTokenEndpoint
		clientID, clientSecret = c.auth.Google.ClientID, c.auth.Google.ClientSecret
	}

	form := url.Values{
		"grant_type":   {"authorization_code"},
		"client_id":    {clientID},
		"code":         {code},
		"redirect_uri": {redirectURI},
	}
	if codeVerifier != "" {
		form.Set("code_verifier", codeVerifier)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, models.NewAuthError(models.ErrKindInternal, "failed to build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if clientSecret != "" {
		req.SetBasicAuth(clientID, clientSecret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, models.NewAuthError(models.ErrKindNetwork, "token exchange failed", err)
	}
	defer resp.Body.Close()

	var body struct {
		AccessToken      string `json:"access_token"`
		IDToken          string `json:"id_token"`
		RefreshToken     string `json:"refresh_token"`
		TokenType        string `json:"token_type"`
		ExpiresIn        int32  `json:"expires_in"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, models.NewAuthError(models.ErrKindInternal, "failed to parse token response", err)
	}
	if body.Error != "" || body.AccessToken == "" {
		msg := body.Error
		if body.ErrorDescription != "" {
			msg = fmt.Sprintf("%s: %s", body.Error, body.ErrorDescription)
		}
		if msg == "" {
			msg = fmt.Sprintf("token endpoint returned %d", resp.StatusCode)
		}
		return nil, models.NewAuthError(models.ErrKindInvalidCredentials, msg, nil)
	}

	c.logger.Debug().Msg("Authorization code exchanged for tokens")
	return &models.TokenBundle{
		AccessToken:  body.AccessToken,
		IDToken:      body.IDToken,
		RefreshToken: body.RefreshToken,
		TokenType:    body.TokenType,
		ExpiresIn:    body.ExpiresIn,
	}, nil
}

// UserInfo fetches the OIDC userInfo for an access token. Used when id-token
// claims are insufficient to extract the principal.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (*models.UserInfo, error) {
	endpoint := strings.TrimRight(c.auth.HostedDomain, "/") + "/oauth2/userInfo"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, models.NewAuthError(models.ErrKindInternal, "failed to build userInfo request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, models.NewAuthError(models.ErrKindNetwork, "userInfo request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, models.NewAuthError(models.ErrKindTokenRejected,
			fmt.Sprintf("userInfo returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var info struct {
		Sub      string `json:"sub"`
		Email    string `json:"email"`
		Username string `json:"username"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, models.NewAuthError(models.ErrKindInternal, "failed to parse userInfo", err)
	}

	return &models.UserInfo{
		Sub:      info.Sub,
		Email:    info.Email,
		Username: info.Username,
		Name:     info.Name,
	}, nil
}
