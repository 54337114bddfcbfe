// Package discovery finds a stream server on the local network over mDNS.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("discovery: no server found")

// Browser is implemented by *zeroconf.Resolver.
type Browser interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

type Config struct {
	Service string
	Domain  string
	Timeout time.Duration
}

// Endpoint is an announced stream server. Path comes from a "path=" TXT
// record and is empty when none was announced.
type Endpoint struct {
	Instance string
	Host     string
	Port     int
	Path     string
}

func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

type Resolver struct {
	cfg     Config
	browser Browser
	log     *zap.Logger
}

// New browses with a zeroconf resolver on all interfaces.
func New(cfg Config, logger *zap.Logger) (*Resolver, error) {
	r, err := zeroconf.NewResolver()
	if err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}
	return NewWithBrowser(cfg, r, logger), nil
}

func NewWithBrowser(cfg Config, b Browser, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Domain == "" {
		cfg.Domain = "local."
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Resolver{cfg: cfg, browser: b, log: logger.Named("discovery")}
}

// Resolve returns the first usable announcement seen before the timeout.
func (r *Resolver) Resolve(ctx context.Context) (Endpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 8)
	if err := r.browser.Browse(ctx, r.cfg.Service, r.cfg.Domain, entries); err != nil {
		return Endpoint{}, fmt.Errorf("discovery: browse %s: %w", r.cfg.Service, err)
	}
	r.log.Debug("browsing", zap.String("service", r.cfg.Service), zap.String("domain", r.cfg.Domain))

	for {
		select {
		case <-ctx.Done():
			return Endpoint{}, fmt.Errorf("%w: %s within %s", ErrNotFound, r.cfg.Service, r.cfg.Timeout)
		case entry, ok := <-entries:
			if !ok {
				return Endpoint{}, fmt.Errorf("%w: %s", ErrNotFound, r.cfg.Service)
			}
			ep, usable := endpointOf(entry)
			if !usable {
				r.log.Debug("skipping entry without address", zap.String("instance", entry.Instance))
				continue
			}
			r.log.Info("server found",
				zap.String("instance", ep.Instance),
				zap.String("addr", ep.Addr()),
			)
			return ep, nil
		}
	}
}

// endpointOf prefers an IPv4 address, then IPv6, then the host name.
func endpointOf(entry *zeroconf.ServiceEntry) (Endpoint, bool) {
	if entry == nil || entry.Port <= 0 {
		return Endpoint{}, false
	}
	ep := Endpoint{Instance: entry.Instance, Port: entry.Port}
	switch {
	case len(entry.AddrIPv4) > 0:
		ep.Host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		ep.Host = entry.AddrIPv6[0].String()
	case entry.HostName != "":
		ep.Host = strings.TrimSuffix(entry.HostName, ".")
	default:
		return Endpoint{}, false
	}
	for _, txt := range entry.Text {
		if path, ok := strings.CutPrefix(txt, "path="); ok {
			ep.Path = path
		}
	}
	return ep, true
}
