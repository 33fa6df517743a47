package anomaly

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Resolver resolves the country name for an IP.
type Resolver interface {
	ResolveCountry(ctx context.Context, ip string) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, ip string) (string, error)

func (f ResolverFunc) ResolveCountry(ctx context.Context, ip string) (string, error) {
	return f(ctx, ip)
}

// NormalizeIP strips an IPv4-mapped IPv6 prefix and surrounding whitespace.
func NormalizeIP(ip string) string {
	ip = strings.TrimSpace(ip)
	ip = strings.TrimPrefix(ip, "::ffff:")
	return ip
}

// DefaultIPAPIEndpoint is the ipapi.co JSON endpoint; %s is the escaped IP.
const DefaultIPAPIEndpoint = "https://ipapi.co/%s/json/"

// IPAPIResolver resolves countries through ipapi.co (or a compatible endpoint).
type IPAPIResolver struct {
	endpoint string
	client   *http.Client
	loopback string
}

// IPAPIOption configures an IPAPIResolver.
type IPAPIOption func(*IPAPIResolver)

// WithEndpoint overrides the URL template. It must contain one %s.
func WithEndpoint(tmpl string) IPAPIOption {
	return func(r *IPAPIResolver) {
		if strings.Contains(tmpl, "%s") {
			r.endpoint = tmpl
		}
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) IPAPIOption {
	return func(r *IPAPIResolver) {
		if c != nil {
			r.client = c
		}
	}
}

// WithLoopbackSubstitute resolves loopback clients as ip instead of Unknown.
// Useful in development, where every request comes from 127.0.0.1.
func WithLoopbackSubstitute(ip string) IPAPIOption {
	return func(r *IPAPIResolver) { r.loopback = strings.TrimSpace(ip) }
}

// NewIPAPIResolver returns an IPAPIResolver.
func NewIPAPIResolver(opts ...IPAPIOption) *IPAPIResolver {
	r := &IPAPIResolver{
		endpoint: DefaultIPAPIEndpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

type ipapiResponse struct {
	CountryName string `json:"country_name"`
	Error       bool   `json:"error"`
	Reason      string `json:"reason"`
}

func (r *IPAPIResolver) ResolveCountry(ctx context.Context, ip string) (string, error) {
	ip = NormalizeIP(ip)
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", fmt.Errorf("%w: unparseable ip", ErrLookupUnavailable)
	}
	if parsed.IsLoopback() {
		if r.loopback == "" {
			return UnknownCountry, nil
		}
		ip = r.loopback
	} else if parsed.IsPrivate() || parsed.IsUnspecified() || parsed.IsLinkLocalUnicast() {
		return UnknownCountry, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(r.endpoint, url.PathEscape(ip)), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLookupUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrLookupUnavailable, resp.StatusCode)
	}

	var body ipapiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrLookupUnavailable, err)
	}
	if body.Error {
		return "", fmt.Errorf("%w: %s", ErrLookupUnavailable, body.Reason)
	}
	if strings.TrimSpace(body.CountryName) == "" {
		return "", fmt.Errorf("%w: empty country", ErrLookupUnavailable)
	}
	return strings.TrimSpace(body.CountryName), nil
}
