package security

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var (
	ErrInvalidScheme  = errors.New("server URL must use http or https")
	ErrMissingHost    = errors.New("server URL has no host")
	ErrInsecureRemote = errors.New("plain http is only allowed for local or private servers")
	ErrForeignOrigin  = errors.New("artifact URL points outside the server origin")
)

// ValidateServerURL checks a dream server base URL. Plain http is accepted
// only when the host is loopback or on a private network.
func ValidateServerURL(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	switch parsed.Scheme {
	case "http", "https":
	default:
		return nil, ErrInvalidScheme
	}

	host := parsed.Hostname()
	if host == "" {
		return nil, ErrMissingHost
	}

	if parsed.Scheme == "http" && !isLocalHost(host) {
		return nil, fmt.Errorf("%w: %s", ErrInsecureRemote, host)
	}

	parsed.Path = strings.TrimRight(parsed.Path, "/")
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed, nil
}

// ResolveArtifactURL turns an artifact reference from an event or the run
// log into an absolute URL on the server. References are usually relative
// paths like "outputs/img-samples/000001.42.png"; absolute references must
// share the server's origin.
func ResolveArtifactURL(base *url.URL, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("empty artifact reference")
	}

	parsed, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid artifact reference: %w", err)
	}

	if parsed.IsAbs() || parsed.Host != "" {
		if !strings.EqualFold(parsed.Scheme, base.Scheme) || !strings.EqualFold(parsed.Host, base.Host) {
			return "", fmt.Errorf("%w: %s", ErrForeignOrigin, ref)
		}
		return parsed.String(), nil
	}

	root := *base
	if !strings.HasSuffix(root.Path, "/") {
		root.Path += "/"
	}
	parsed.Path = strings.TrimLeft(parsed.Path, "/")
	return root.ResolveReference(parsed).String(), nil
}

func isLocalHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return isPrivateIP(ip)
	}
	return false
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsPrivate() || ip.IsUnspecified() {
		return true
	}

	if ip4 := ip.To4(); ip4 != nil {
		switch {
		case ip4[0] == 100 && ip4[1] >= 64 && ip4[1] <= 127: // 100.64.0.0/10 (CGNAT, tailnets)
			return true
		}
	}

	return false
}
