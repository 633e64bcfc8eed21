// Package netinfo names the network that owns an address using a MaxMind
// ASN database.
package netinfo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/oschwald/geoip2-golang"

	"github.com/okian/draftwatch/pkg/logger"
)

const defaultCacheSize = 4096

// Sentinel kinds for lookup errors.
var (
	ErrInvalidAddress = errors.New("invalid network address")
	ErrUnknownNetwork = errors.New("address not in ASN database")
)

type asnReader interface {
	ASN(ip net.IP) (*geoip2.ASN, error)
	Close() error
}

// Resolver answers Organization lookups and caches the answers.
type Resolver struct {
	reader    asnReader
	logger    logger.Logger
	cacheSize int

	mu    sync.RWMutex
	cache map[string]string
}

// Option applies a configuration option to the Resolver.
type Option func(*Resolver)

// WithCacheSize bounds the number of cached answers.
func WithCacheSize(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.cacheSize = n
		}
	}
}

// WithLogger sets a custom logger for the resolver.
func WithLogger(l logger.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// Open loads the GeoLite2/GeoIP2 ASN database at path.
func Open(path string, opts ...Option) (*Resolver, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open asn database %s: %w", path, err)
	}
	return newResolver(reader, opts...), nil
}

func newResolver(reader asnReader, opts ...Option) *Resolver {
	r := &Resolver{
		reader:    reader,
		cacheSize: defaultCacheSize,
		cache:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Named("netinfo")
	}
	return r
}

// Organization returns "AS<number> <organization>" for address.
func (r *Resolver) Organization(ctx context.Context, address string) (string, error) {
	ip := net.ParseIP(address)
	if ip == nil {
		return "", fmt.Errorf("%q: %w", address, ErrInvalidAddress)
	}
	key := ip.String()

	r.mu.RLock()
	org, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return org, nil
	}

	record, err := r.reader.ASN(ip)
	if err != nil {
		return "", fmt.Errorf("asn lookup %s: %w", key, err)
	}
	if record == nil || record.AutonomousSystemNumber == 0 {
		return "", fmt.Errorf("%s: %w", key, ErrUnknownNetwork)
	}
	org = fmt.Sprintf("AS%d %s", record.AutonomousSystemNumber, record.AutonomousSystemOrganization)

	r.mu.Lock()
	if len(r.cache) >= r.cacheSize {
		r.logger.Debug(ctx, "asn cache full, resetting", logger.Int("entries", len(r.cache)))
		clear(r.cache)
	}
	r.cache[key] = org
	r.mu.Unlock()
	return org, nil
}

// Close releases the database.
func (r *Resolver) Close() error {
	return r.reader.Close()
}
