package anomaly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultLookupTimeout bounds a single origin lookup.
const DefaultLookupTimeout = 3 * time.Second

// Assessment is the outcome of classifying a login.
type Assessment struct {
	Origin     Origin
	Suspicious bool
}

// Classifier resolves the current origin under a bounded timeout and
// classifies it against the previous one.
type Classifier struct {
	resolver Resolver
	timeout  time.Duration
	log      *slog.Logger
}

// NewClassifier returns a Classifier. A nil resolver always yields Unknown.
func NewClassifier(resolver Resolver, timeout time.Duration, log *slog.Logger) *Classifier {
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Classifier{resolver: resolver, timeout: timeout, log: log}
}

// Assess never fails; lookup problems are logged and produce UnknownCountry.
func (c *Classifier) Assess(ctx context.Context, prev Origin, ip string) Assessment {
	ip = NormalizeIP(ip)
	country, err := c.lookup(ctx, ip)
	if err != nil {
		c.log.Warn("anomaly.lookup.unavailable", "ip", ip, "err", err)
		country = UnknownCountry
	}

	cur := Origin{IP: ip, Country: country}
	return Assessment{Origin: cur, Suspicious: Classify(prev, cur)}
}

type lookupResult struct {
	country string
	err     error
}

func (c *Classifier) lookup(ctx context.Context, ip string) (string, error) {
	if c.resolver == nil || ip == "" {
		return "", ErrLookupUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// Buffered so an abandoned lookup can still deliver and exit.
	ch := make(chan lookupResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- lookupResult{err: fmt.Errorf("%w: resolver panic: %v", ErrLookupUnavailable, p)}
			}
		}()
		country, err := c.resolver.ResolveCountry(ctx, ip)
		ch <- lookupResult{country: country, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if errors.Is(r.err, ErrLookupUnavailable) {
				return "", r.err
			}
			return "", fmt.Errorf("%w: %v", ErrLookupUnavailable, r.err)
		}
		if r.country == "" {
			return "", ErrLookupUnavailable
		}
		return r.country, nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", ErrLookupUnavailable, ctx.Err())
	}
}
