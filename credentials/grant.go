package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultTokenURL is used when neither the credential nor its service
// account key names a token endpoint.
const DefaultTokenURL = "https://oauth2.googleapis.com/token"

const (
	jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	assertionTTL   = time.Hour
)

// Transport sends HTTP requests. *http.Client satisfies it.
type Transport interface {
	Do(*http.Request) (*http.Response, error)
}

// transportRoundTripper lets x/oauth2 send through a Transport.
type transportRoundTripper struct {
	t Transport
}

func (rt transportRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return rt.t.Do(req)
}

func httpClientFor(t Transport) *http.Client {
	if c, ok := t.(*http.Client); ok {
		return c
	}
	return &http.Client{Transport: transportRoundTripper{t: t}}
}

// exchange obtains a new token using the strongest grant the credential
// supports: refresh token, then service account assertion, then client
// credentials.
func (m *Manager) exchange(ctx context.Context, cred Credential) (*oauth2.Token, string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	switch {
	case cred.RefreshToken != "":
		tok, err := m.refreshGrant(ctx, cred)
		return tok, "refresh_token", err
	case cred.ServiceAccount != nil:
		tok, err := m.jwtGrant(ctx, cred)
		return tok, "jwt_bearer", err
	case cred.ClientID != "" && cred.ClientSecret != "":
		tok, err := m.clientCredentialsGrant(ctx, cred)
		return tok, "client_credentials", err
	}
	return nil, "", ErrNoGrant
}

func (m *Manager) refreshGrant(ctx context.Context, cred Credential) (*oauth2.Token, error) {
	conf := &oauth2.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		Scopes:       cred.Scopes,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL(cred),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	return conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
}

func (m *Manager) clientCredentialsGrant(ctx context.Context, cred Credential) (*oauth2.Token, error) {
	conf := &clientcredentials.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		TokenURL:     tokenURL(cred),
		Scopes:       cred.Scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	return conf.Token(ctx)
}

// jwtGrant signs an RS256 assertion with the service account key and trades
// it for an access token.
func (m *Manager) jwtGrant(ctx context.Context, cred Credential) (*oauth2.Token, error) {
	key := cred.ServiceAccount
	endpoint := tokenURL(cred)

	assertion, err := signAssertion(key, endpoint, cred.Scopes, cred.Subject, m.now())
	if err != nil {
		return nil, &AuthError{Err: err, Terminal: true}
	}

	form := url.Values{
		"grant_type": {jwtBearerGrant},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.transport.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w", err)
	}

	var payload struct {
		AccessToken      string `json:"access_token"`
		TokenType        string `json:"token_type"`
		RefreshToken     string `json:"refresh_token"`
		ExpiresIn        int64  `json:"expires_in"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		ErrorURI         string `json:"error_uri"`
	}
	ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	decodeErr := json.Unmarshal(body, &payload)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		re := &oauth2.RetrieveError{Response: resp, Body: body}
		if decodeErr == nil && (ct == "application/json" || ct == "") {
			re.ErrorCode = payload.Error
			re.ErrorDescription = payload.ErrorDescription
			re.ErrorURI = payload.ErrorURI
		}
		return nil, re
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decoding token response: %w", decodeErr)
	}
	if payload.AccessToken == "" {
		return nil, fmt.Errorf("token response is missing access_token")
	}

	tok := &oauth2.Token{
		AccessToken:  payload.AccessToken,
		TokenType:    payload.TokenType,
		RefreshToken: payload.RefreshToken,
	}
	if payload.ExpiresIn > 0 {
		tok.Expiry = m.now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	return tok, nil
}

func signAssertion(key *ServiceAccountKey, audience string, scopes []string, subject string, now time.Time) (string, error) {
	pk, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(key.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("parsing service account private key: %w", err)
	}
	claims := jwt.MapClaims{
		"iss": key.ClientEmail,
		"aud": audience,
		"iat": now.Unix(),
		"exp": now.Add(assertionTTL).Unix(),
	}
	if len(scopes) > 0 {
		claims["scope"] = strings.Join(scopes, " ")
	}
	if subject != "" {
		claims["sub"] = subject
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if key.PrivateKeyID != "" {
		token.Header["kid"] = key.PrivateKeyID
	}
	signed, err := token.SignedString(pk)
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}
	return signed, nil
}

func tokenURL(cred Credential) string {
	switch {
	case cred.TokenURL != "":
		return cred.TokenURL
	case cred.ServiceAccount != nil && cred.ServiceAccount.TokenURI != "":
		return cred.ServiceAccount.TokenURI
	}
	return DefaultTokenURL
}
