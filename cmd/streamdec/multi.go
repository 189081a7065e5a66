package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/thesyncim/streamdec"
	"github.com/thesyncim/streamdec/ingest"
	"github.com/thesyncim/streamdec/internal/logging"
	"github.com/thesyncim/streamdec/internal/receiver"
	"github.com/thesyncim/streamdec/sink"
)

var (
	multiSource sourceFlags
	multiSink   sinkFlags
)

var multiCmd = &cobra.Command{
	Use:   "multi ADDR|FILE...",
	Short: "Decode several streams at once",
	Long: `Run one decoder session per argument, all in the same registry. An
argument naming an existing file is replayed; anything else is used as a
network address for the configured protocol.

Sink paths get a -<n> suffix per stream.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMulti,
}

func init() {
	rootCmd.AddCommand(multiCmd)
	addSourceFlags(multiCmd, &multiSource)
	addSinkFlags(multiCmd, &multiSink)
}

type stream struct {
	name string
	src  ingest.Source
	out  sink.Sink
	rcv  *receiver.Receiver
}

func runMulti(cmd *cobra.Command, args []string) error {
	log := logging.FromContext(cmd.Context())
	reg := streamdec.NewRegistry(log)

	streams := make([]stream, 0, len(args))
	for i, arg := range args {
		addr, file := arg, ""
		if st, err := os.Stat(arg); err == nil && !st.IsDir() {
			addr, file = "", arg
		}
		src, err := newSource(addr, file, multiSource, logging.FromContext(logging.WithStream(cmd.Context(), arg)))
		if err == nil {
			var out sink.Sink
			out, err = sink.New(sinkOptions(multiSink, strconv.Itoa(i)))
			if err == nil {
				streams = append(streams, stream{arg, src, out, receiver.New(reg, out, receiverConfig(arg, log))})
			}
		}
		if err != nil {
			for _, s := range streams {
				s.out.Close()
			}
			return fmt.Errorf("stream %s: %w", arg, err)
		}
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	for _, s := range streams {
		g.Go(func() error {
			err := runReceiver(ctx, s.src, s.rcv, s.out)
			logStats(s.name, s.rcv.Stats())
			if err != nil {
				return fmt.Errorf("stream %s: %w", s.name, err)
			}
			return nil
		})
	}
	return g.Wait()
}
