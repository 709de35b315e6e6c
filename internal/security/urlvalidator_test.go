package security

import (
	"errors"
	"net"
	"testing"
)

func TestValidateServerURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr error
	}{
		{"localhost http", "http://localhost:9090", nil},
		{"loopback http", "http://127.0.0.1:9090/", nil},
		{"private lan http", "http://192.168.1.20:9090", nil},
		{"tailnet http", "http://100.101.102.103:9090", nil},
		{"remote https", "https://dream.example.com", nil},
		{"remote http rejected", "http://dream.example.com", ErrInsecureRemote},
		{"ftp rejected", "ftp://localhost/", ErrInvalidScheme},
		{"no scheme", "localhost:9090", ErrInvalidScheme},
		{"no host", "http://", ErrMissingHost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateServerURL(tt.url)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateServerURL(%q) error = %v, want nil", tt.url, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateServerURL(%q) error = %v, want %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidateServerURL_Normalizes(t *testing.T) {
	u, err := ValidateServerURL("  http://localhost:9090/dream/?x=1#frag ")
	if err != nil {
		t.Fatalf("ValidateServerURL() error = %v", err)
	}
	if got := u.String(); got != "http://localhost:9090/dream" {
		t.Errorf("ValidateServerURL() = %q, want %q", got, "http://localhost:9090/dream")
	}
}

func TestResolveArtifactURL(t *testing.T) {
	base, _ := ValidateServerURL("http://localhost:9090")
	prefixed, _ := ValidateServerURL("http://localhost:9090/dream")

	tests := []struct {
		name    string
		base    string
		ref     string
		want    string
		wantErr error
	}{
		{"relative", "root", "outputs/img-samples/000001.42.png", "http://localhost:9090/outputs/img-samples/000001.42.png", nil},
		{"leading slash", "root", "/outputs/a.png", "http://localhost:9090/outputs/a.png", nil},
		{"under prefix", "prefix", "outputs/a.png", "http://localhost:9090/dream/outputs/a.png", nil},
		{"same origin absolute", "root", "http://localhost:9090/outputs/a.png", "http://localhost:9090/outputs/a.png", nil},
		{"foreign origin", "root", "http://evil.example.com/a.png", "", ErrForeignOrigin},
		{"scheme relative foreign", "root", "//evil.example.com/a.png", "", ErrForeignOrigin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := base
			if tt.base == "prefix" {
				b = prefixed
			}
			got, err := ResolveArtifactURL(b, tt.ref)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ResolveArtifactURL() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveArtifactURL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveArtifactURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveArtifactURL_Empty(t *testing.T) {
	base, _ := ValidateServerURL("http://localhost:9090")
	if _, err := ResolveArtifactURL(base, "  "); err == nil {
		t.Error("ResolveArtifactURL(empty) error = nil, want error")
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"192.168.0.1", true},
		{"169.254.1.1", true},
		{"100.64.0.1", true},
		{"::1", true},
		{"8.8.8.8", false},
		{"1.1.1.1", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			if got := isPrivateIP(net.ParseIP(tt.ip)); got != tt.want {
				t.Errorf("isPrivateIP(%s) = %v, want %v", tt.ip, got, tt.want)
			}
		})
	}
}
