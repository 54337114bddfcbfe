package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/robertklofgren/andmon/codec"
	"github.com/robertklofgren/andmon/negotiate"
)

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ff, prober := platform(cfg, logger)
	n := negotiate.New(prober, logger)
	ctx := cmd.Context()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CODEC\tSUPPORTED\tDECODER")
	for _, r := range n.Probe(ctx, cfg.Candidates()) {
		name := "-"
		if ff != nil && r.Supported {
			name = ff.DecoderName(r.Codec)
		}
		supported := fmt.Sprint(r.Supported)
		if r.Err != nil {
			supported = "error: " + r.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Codec, supported, name)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	offer := n.Negotiate(ctx, cfg.Candidates(), codec.Descriptor(cfg.Codecs.Fallback))
	fmt.Fprintf(cmd.OutOrStdout(), "\noffer: %v\n", offer.Strings())
	return nil
}
