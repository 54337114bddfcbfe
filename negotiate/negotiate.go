// Package negotiate builds the ordered codec offer a client sends when it
// opens a stream.
package negotiate

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/robertklofgren/andmon/codec"
)

// Prober answers whether the local platform can decode a codec with
// hardware acceleration preferred and low-latency output.
type Prober interface {
	IsConfigSupported(ctx context.Context, d codec.Descriptor) (bool, error)
}

// QueryError records a capability query that failed. Failed queries count
// as "unsupported" and are only logged.
type QueryError struct {
	Codec codec.Descriptor
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("negotiate: query %s: %v", e.Codec, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Result is the outcome of probing one candidate.
type Result struct {
	Codec     codec.Descriptor
	Supported bool
	Err       error // *QueryError when the query failed
}

type Negotiator struct {
	prober Prober
	log    *zap.Logger
}

// New returns a Negotiator. A nil prober means the platform has no
// capability query facility and every candidate is unsupported.
func New(prober Prober, logger *zap.Logger) *Negotiator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Negotiator{prober: prober, log: logger.Named("negotiate")}
}

// Probe queries every candidate concurrently. Results keep candidate order.
func (n *Negotiator) Probe(ctx context.Context, candidates []codec.Descriptor) []Result {
	results := make([]Result, len(candidates))
	for i, c := range candidates {
		results[i].Codec = c
	}
	if n.prober == nil {
		return results
	}

	var g errgroup.Group
	for i := range results {
		g.Go(func() error {
			ok, err := n.prober.IsConfigSupported(ctx, results[i].Codec)
			if err != nil {
				results[i].Err = &QueryError{Codec: results[i].Codec, Err: err}
				return nil
			}
			results[i].Supported = ok
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Negotiate returns the supported candidates in their original order,
// followed by the fallback. The fallback is always last and appears once.
func (n *Negotiator) Negotiate(ctx context.Context, candidates []codec.Descriptor, fallback codec.Descriptor) codec.Offer {
	seen := make(map[codec.Descriptor]bool, len(candidates)+1)
	seen[fallback] = true

	unique := make([]codec.Descriptor, 0, len(candidates))
	for _, c := range candidates {
		if seen[c] {
			continue
		}
		seen[c] = true
		unique = append(unique, c)
	}

	offer := make(codec.Offer, 0, len(unique)+1)
	for _, r := range n.Probe(ctx, unique) {
		if r.Err != nil {
			n.log.Debug("capability query failed", zap.String("codec", r.Codec.String()), zap.Error(r.Err))
			continue
		}
		if !r.Supported {
			n.log.Debug("codec not supported", zap.String("codec", r.Codec.String()))
			continue
		}
		offer = append(offer, r.Codec)
	}
	offer = append(offer, fallback)

	n.log.Info("codec offer built", zap.Strings("codecs", offer.Strings()))
	return offer
}
