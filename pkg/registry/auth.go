package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// challenge is a parsed WWW-Authenticate bearer challenge.
type challenge struct {
	Realm   string
	Service string
	Scope   string
}

// parseChallenge parses a header such as
//
//	Bearer realm="https://auth.docker.io/token",service="registry.docker.io",scope="repository:library/debian:pull"
func parseChallenge(header string) (challenge, bool) {
	if !strings.HasPrefix(header, "Bearer ") {
		return challenge{}, false
	}
	var ch challenge
	for _, field := range strings.Split(strings.TrimPrefix(header, "Bearer "), ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(field), "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"`)
		switch key {
		case "realm":
			ch.Realm = value
		case "service":
			ch.Service = value
		case "scope":
			ch.Scope = value
		}
	}
	if ch.Realm == "" {
		return challenge{}, false
	}
	return ch, true
}

// tokenSource fetches and caches bearer tokens per registry and repository.
type tokenSource struct {
	httpClient  *http.Client
	credentials map[string]Credentials

	mu     sync.Mutex
	tokens map[string]cachedToken
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

func newTokenSource(httpClient *http.Client, credentials map[string]Credentials) *tokenSource {
	return &tokenSource{
		httpClient:  httpClient,
		credentials: credentials,
		tokens:      make(map[string]cachedToken),
	}
}

// cachedToken returns a still-valid cached token, or "".
func (s *tokenSource) cachedToken(host, repo string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token, ok := s.tokens[host+"/"+repo]; ok && time.Now().Before(token.expiresAt) {
		return token.value
	}
	return ""
}

// token answers a bearer challenge, caching the resulting token.
func (s *tokenSource) token(ctx context.Context, host, repo string, ch challenge) (string, error) {
	if creds, ok := s.credentials[host]; ok && creds.Token != "" {
		return creds.Token, nil
	}

	endpoint, err := url.Parse(ch.Realm)
	if err != nil {
		return "", errors.Wrap(err, "invalid token realm")
	}
	query := endpoint.Query()
	if ch.Service != "" {
		query.Set("service", ch.Service)
	}
	scope := ch.Scope
	if scope == "" {
		scope = "repository:" + repo + ":pull"
	}
	query.Set("scope", scope)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to create token request")
	}
	if creds, ok := s.credentials[host]; ok && creds.Username != "" {
		req.SetBasicAuth(creds.Username, creds.Password)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "token request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := errors.Errorf("token request failed with status: %d", resp.StatusCode)
		return "", WrapHTTPError(err, resp.StatusCode)
	}

	var payload struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", errors.Wrap(err, "failed to decode token response")
	}

	token := payload.Token
	if token == "" {
		token = payload.AccessToken
	}
	if token == "" {
		return "", errors.New("token response contained no token")
	}

	expiresIn := payload.ExpiresIn
	if expiresIn <= 0 {
		// Docker Hub's documented default.
		expiresIn = 60
	}

	s.mu.Lock()
	s.tokens[host+"/"+repo] = cachedToken{
		value:     token,
		expiresAt: time.Now().Add(time.Duration(expiresIn) * time.Second),
	}
	s.mu.Unlock()

	return token, nil
}
