package registry

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

const dockerHubRegistry = "registry-1.docker.io"

// Client resolves image digests against the OCI distribution API.
type Client struct {
	config     *Config
	httpClient *http.Client
	auth       *tokenSource
}

// New creates a new registry client.
func New(config *Config) (*Client, error) {
	if config == nil {
		config = &Config{}
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "dlock/1.0"
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.Insecure,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	httpClient := &http.Client{
		Transport: transport,
		Timeout:   config.Timeout,
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		auth:       newTokenSource(httpClient, config.Credentials),
	}, nil
}

// Resolve returns the digest the registry currently serves for
// repository:tag. The repository may carry a registry hostname
// ("ghcr.io/org/app"); bare Docker Hub names ("debian") are normalized to
// their library form.
func (c *Client) Resolve(ctx context.Context, repository, tag string) (string, error) {
	if repository == "" {
		return "", errors.New("repository cannot be empty")
	}
	if tag == "" {
		tag = "latest"
	}

	host, repo := splitRepository(repository)
	manifestURL := fmt.Sprintf("%s/v2/%s/manifests/%s", c.baseURL(host), repo, tag)

	resp, err := c.do(ctx, http.MethodHead, manifestURL, host, repo)
	if err != nil {
		return "", errors.Wrapf(err, "failed to resolve %s:%s", repository, tag)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := errors.Errorf("resolve %s:%s failed with status: %d", repository, tag, resp.StatusCode)
		return "", WrapHTTPError(err, resp.StatusCode)
	}

	value := resp.Header.Get("Docker-Content-Digest")
	if value == "" {
		// Some registries omit the header on HEAD; fetch the manifest
		// and hash it ourselves.
		return c.resolveByBody(ctx, manifestURL, host, repo)
	}

	parsed, err := digest.Parse(value)
	if err != nil {
		return "", errors.Wrapf(err, "registry returned an invalid digest for %s:%s", repository, tag)
	}
	return parsed.String(), nil
}

// resolveByBody downloads the manifest and computes its digest.
func (c *Client) resolveByBody(ctx context.Context, manifestURL, host, repo string) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, manifestURL, host, repo)
	if err != nil {
		return "", errors.Wrap(err, "failed to get manifest")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := errors.Errorf("get manifest failed with status: %d", resp.StatusCode)
		return "", WrapHTTPError(err, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "failed to read manifest")
	}
	return digest.FromBytes(body).String(), nil
}

// do sends one request, performing the bearer token challenge dance when
// the registry answers 401.
func (c *Client) do(ctx context.Context, method, url, host, repo string) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, url)
	if err != nil {
		return nil, err
	}
	if token := c.auth.cachedToken(host, repo); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else if creds, ok := c.config.Credentials[host]; ok && creds.Username != "" {
		req.SetBasicAuth(creds.Username, creds.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "request failed")
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	challenge, ok := parseChallenge(resp.Header.Get("WWW-Authenticate"))
	resp.Body.Close()
	if !ok {
		return nil, errors.Errorf("registry %s requires authentication", host)
	}

	token, err := c.auth.token(ctx, host, repo, challenge)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to authenticate with %s", host)
	}

	req, err = c.newRequest(ctx, method, url)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err = c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "request failed")
	}
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", strings.Join([]string{
		MediaTypes.OCIManifest,
		MediaTypes.OCIIndex,
		MediaTypes.DockerManifest,
		MediaTypes.DockerManifestList,
	}, ", "))
	req.Header.Set("User-Agent", c.config.UserAgent)
	return req, nil
}

// baseURL prepends the scheme for a registry hostname.
func (c *Client) baseURL(host string) string {
	if c.config.Insecure {
		return "http://" + host
	}
	return "https://" + host
}

// Close closes the registry client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// splitRepository splits a repository into registry hostname and repository
// path. A leading component is a hostname only when it contains a dot, a
// colon, or is "localhost"; everything else is a Docker Hub repository,
// with single-component names mapped into the library namespace.
func splitRepository(repository string) (host, repo string) {
	parts := strings.SplitN(repository, "/", 2)
	if len(parts) == 2 && isRegistryHost(parts[0]) {
		return parts[0], parts[1]
	}
	if !strings.Contains(repository, "/") {
		return dockerHubRegistry, "library/" + repository
	}
	return dockerHubRegistry, repository
}

func isRegistryHost(s string) bool {
	return strings.Contains(s, ".") || strings.Contains(s, ":") || s == "localhost"
}
