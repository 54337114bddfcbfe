package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/robertklofgren/andmon/codec"
	"github.com/robertklofgren/andmon/config"
	"github.com/robertklofgren/andmon/decoder"
	"github.com/robertklofgren/andmon/discovery"
	"github.com/robertklofgren/andmon/logging"
	"github.com/robertklofgren/andmon/negotiate"
	"github.com/robertklofgren/andmon/player"
	"github.com/robertklofgren/andmon/render"
	"github.com/robertklofgren/andmon/transport"
	"github.com/robertklofgren/andmon/viewer"
)

// setup loads and validates the config and builds the logger.
func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// platform returns the streaming decoder platform and its capability
// prober, both nil when decoding is disabled.
func platform(cfg *config.Config, logger *zap.Logger) (*decoder.FFmpeg, negotiate.Prober) {
	if cfg.Decoder.Disabled {
		return nil, nil
	}
	ff := decoder.NewFFmpeg(decoder.FFmpegConfig{
		Path:    cfg.Decoder.FFmpegPath,
		Threads: cfg.Decoder.Threads,
	}, logger)
	return ff, decoder.Prober{Platform: ff}
}

func runPlayer(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Discovery.Enabled {
		if err := discoverServer(ctx, cfg, logger); err != nil {
			return err
		}
	}

	ff, prober := platform(cfg, logger)
	var decoders decoder.Platform
	if ff != nil {
		decoders = ff
	}
	offer := negotiate.New(prober, logger).Negotiate(ctx, cfg.Candidates(), codec.Descriptor(cfg.Codecs.Fallback))

	ln, err := net.Listen("tcp", cfg.Viewer.Addr)
	if err != nil {
		return fmt.Errorf("viewer: %w", err)
	}
	view := viewer.New(viewer.Config{JPEGQuality: cfg.Viewer.JPEGQuality}, logger)
	session := player.NewSession(player.Options{
		Fallback:        codec.Descriptor(cfg.Codecs.Fallback),
		RefreshInterval: cfg.RefreshInterval(),
		WaitForKeyFrame: cfg.Playback.WaitForKeyFrame,
	}, decoders, decoder.JPEG{}, render.New(view, logger), logger)
	view.Attach(session)

	viewCtx, stopViewer := context.WithCancel(context.Background())
	defer stopViewer()
	viewDone := make(chan error, 1)
	go func() { viewDone <- view.Serve(viewCtx, ln) }()

	err = stream(ctx, cfg, offer, session, logger)
	if errors.Is(err, transport.ErrTransportFailure) && cfg.Playback.HoldOnClose {
		logger.Warn("stream ended, holding the last frame until interrupted", zap.Error(err))
		<-ctx.Done()
		err = nil
	}

	stopViewer()
	if verr := <-viewDone; verr != nil {
		logger.Error("viewer stopped", zap.Error(verr))
	}
	if errors.Is(err, context.Canceled) {
		logger.Info("interrupted")
		return nil
	}
	return err
}

// stream runs one connection: offer, then the transport read loop and the
// session loop until either ends.
func stream(ctx context.Context, cfg *config.Config, offer codec.Offer, session *player.Session, logger *zap.Logger) error {
	url := cfg.ServerURL()
	ch, err := transport.Dial(ctx, url, logger)
	if err != nil {
		return err
	}
	defer ch.Close()
	logger.Info("connected", zap.String("server", url))

	if err := ch.SendOffer(offer); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return session.Run(gctx)
	})
	g.Go(func() error {
		return ch.ReadLoop(gctx, session)
	})
	return g.Wait()
}

func discoverServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	resolver, err := discovery.New(discovery.Config{
		Service: cfg.Discovery.Service,
		Domain:  cfg.Discovery.Domain,
		Timeout: cfg.Discovery.Timeout,
	}, logger)
	if err != nil {
		return err
	}
	ep, err := resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	cfg.Server.Host = ep.Host
	cfg.Server.Port = ep.Port
	if ep.Path != "" {
		cfg.Server.Path = ep.Path
	}
	return nil
}
