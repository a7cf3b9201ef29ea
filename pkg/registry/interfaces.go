// Package registry resolves Docker image tags to content digests using the
// OCI distribution API.
package registry

import (
	"context"
	"time"
)

// Resolver resolves a Docker image in a registry.
type Resolver interface {
	// Resolve returns the content digest (e.g. "sha256:<hex>") the
	// registry currently serves for repository:tag. An empty tag
	// resolves "latest". Each call is an independent, retryable,
	// blocking network operation.
	Resolve(ctx context.Context, repository, tag string) (string, error)
}

// Config represents resolver configuration.
type Config struct {
	// Timeout for registry operations
	Timeout time.Duration `json:"timeout,omitempty"`

	// UserAgent for HTTP requests
	UserAgent string `json:"user_agent,omitempty"`

	// Insecure allows plain-HTTP registries and skips TLS verification
	Insecure bool `json:"insecure,omitempty"`

	// Credentials per registry hostname
	Credentials map[string]Credentials `json:"credentials,omitempty"`
}

// Credentials contains authentication information for one registry.
type Credentials struct {
	// Username for basic authentication
	Username string `json:"username,omitempty"`

	// Password for basic authentication
	Password string `json:"password,omitempty"`

	// Token for bearer authentication, used as-is when set
	Token string `json:"token,omitempty"`
}

// MediaTypes lists the manifest media types the resolver accepts. Index and
// list types are included so multi-platform images resolve to their index
// digest, which is what FROM references.
var MediaTypes = struct {
	OCIManifest        string
	OCIIndex           string
	DockerManifest     string
	DockerManifestList string
}{
	OCIManifest:        "application/vnd.oci.image.manifest.v1+json",
	OCIIndex:           "application/vnd.oci.image.index.v1+json",
	DockerManifest:     "application/vnd.docker.distribution.manifest.v2+json",
	DockerManifestList: "application/vnd.docker.distribution.manifest.list.v2+json",
}
