package registry

import "testing"

func TestParseChallenge(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   challenge
		ok     bool
	}{
		{
			name:   "docker hub",
			header: `Bearer realm="https://auth.docker.io/token",service="registry.docker.io",scope="repository:library/debian:pull"`,
			want: challenge{
				Realm:   "https://auth.docker.io/token",
				Service: "registry.docker.io",
				Scope:   "repository:library/debian:pull",
			},
			ok: true,
		},
		{
			name:   "realm only",
			header: `Bearer realm="https://ghcr.io/token"`,
			want:   challenge{Realm: "https://ghcr.io/token"},
			ok:     true,
		},
		{
			name:   "spaces between fields",
			header: `Bearer realm="https://auth.example.com/token", service="example"`,
			want: challenge{
				Realm:   "https://auth.example.com/token",
				Service: "example",
			},
			ok: true,
		},
		{
			name:   "basic scheme",
			header: `Basic realm="registry"`,
			ok:     false,
		},
		{
			name:   "missing realm",
			header: `Bearer service="registry.docker.io"`,
			ok:     false,
		},
		{
			name:   "empty header",
			header: "",
			ok:     false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseChallenge(tt.header)
			if ok != tt.ok {
				t.Fatalf("parseChallenge(%q) ok = %v, want %v", tt.header, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("parseChallenge(%q) = %+v, want %+v", tt.header, got, tt.want)
			}
		})
	}
}
