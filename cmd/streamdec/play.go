package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/thesyncim/streamdec"
	"github.com/thesyncim/streamdec/ingest"
	"github.com/thesyncim/streamdec/internal/logging"
	"github.com/thesyncim/streamdec/internal/receiver"
	"github.com/thesyncim/streamdec/sink"
)

// sourceFlags select where a stream comes from when the settings file is not
// enough.
type sourceFlags struct {
	format    string
	interval  time.Duration
	streamKey string
}

// sinkFlags override the sink settings.
type sinkFlags struct {
	kind     string
	path     string
	every    int
	maxWidth int
}

var (
	playSource sourceFlags
	playSink   sinkFlags
	playFile   string
	playAddr   string
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Receive and decode one stream until interrupted",
	Long: `Connect to the configured sender (or listen, for rtp and rtmp), decode the
stream and hand every frame to the configured sink.

With --file a recorded stream is replayed once instead.

Examples:
  streamdec play                              # tcp client to streamAddr:streamPort
  streamdec play --file capture.h264 --sink png --sink-path snaps
  STREAMDEC_PROTOCOL=rtmp streamdec play --addr :1935 --stream-key cam1`,
	Args: cobra.NoArgs,
	RunE: runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)
	f := playCmd.Flags()
	f.StringVar(&playFile, "file", "", "replay a recorded stream instead of the network")
	f.StringVar(&playAddr, "addr", "", "override streamAddr:streamPort")
	addSourceFlags(playCmd, &playSource)
	addSinkFlags(playCmd, &playSink)
}

func addSourceFlags(cmd *cobra.Command, sf *sourceFlags) {
	f := cmd.Flags()
	f.StringVar(&sf.format, "format", "auto", "file format: auto, framed, annexb or mp4")
	f.DurationVar(&sf.interval, "interval", 0, "pace file packets (0 = as fast as decoded)")
	f.StringVar(&sf.streamKey, "stream-key", "", "accept only this RTMP stream name")
}

func addSinkFlags(cmd *cobra.Command, sf *sinkFlags) {
	f := cmd.Flags()
	f.StringVar(&sf.kind, "sink", "", "null, raw or png (overrides sink)")
	f.StringVar(&sf.path, "sink-path", "", "raw output file or png directory (overrides sinkPath)")
	f.IntVar(&sf.every, "sink-every", 0, "keep every n-th frame in png output (overrides sinkEvery)")
	f.IntVar(&sf.maxWidth, "max-width", 0, "downscale png snapshots wider than this")
}

func runPlay(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	addr := cfg.Addr()
	if playAddr != "" {
		addr = playAddr
	}
	log := logging.FromContext(ctx)
	src, err := newSource(addr, playFile, playSource, log)
	if err != nil {
		return err
	}
	out, err := sink.New(sinkOptions(playSink, ""))
	if err != nil {
		return err
	}

	reg := streamdec.NewRegistry(log)
	name := addr
	if playFile != "" {
		name = playFile
	}
	rcv := receiver.New(reg, out, receiverConfig(name, log))

	err = runReceiver(ctx, src, rcv, out)
	logStats(name, rcv.Stats())
	return err
}

// runReceiver runs src into rcv and closes both ends. Cancellation is a
// clean stop.
func runReceiver(ctx context.Context, src ingest.Source, rcv *receiver.Receiver, out sink.Sink) error {
	err := src.Run(ctx, rcv)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return errors.Join(err, rcv.Close(), out.Close())
}

// newSource builds the configured source; a file path wins over the network.
func newSource(addr, file string, sf sourceFlags, log *zerolog.Logger) (ingest.Source, error) {
	if file != "" {
		format, ok := ingest.ParseFileFormat(sf.format)
		if !ok {
			return nil, fmt.Errorf("unknown file format %q", sf.format)
		}
		return ingest.NewFileSource(ingest.FileConfig{
			Path:     file,
			Format:   format,
			Interval: sf.interval,
			Logger:   log,
		}), nil
	}

	switch cfg.Protocol {
	case "tcp":
		return ingest.NewClient(ingest.ClientConfig{
			Addr:            addr,
			ReconnectDelay:  cfg.ReconnectDelay,
			RecvBufferBytes: cfg.RecvBufferBytes,
			MaxPayload:      cfg.MaxBitstreamBytes,
			Logger:          log,
		}), nil
	case "rtp":
		return ingest.NewRTPReceiver(ingest.RTPConfig{
			Addr:            addr,
			RecvBufferBytes: cfg.RecvBufferBytes,
			Logger:          log,
		}), nil
	case "rtmp":
		return ingest.NewRTMPServer(ingest.RTMPConfig{
			Addr:      addr,
			StreamKey: sf.streamKey,
			Logger:    log,
		}), nil
	}
	return nil, fmt.Errorf("unknown protocol %q", cfg.Protocol)
}

// sinkOptions merges flags over settings. suffix keeps outputs of several
// streams apart.
func sinkOptions(sf sinkFlags, suffix string) sink.Options {
	opts := sink.Options{
		Kind:     cfg.Sink,
		Path:     cfg.SinkPath,
		Every:    cfg.SinkEvery,
		MaxWidth: sf.maxWidth,
	}
	if sf.kind != "" {
		opts.Kind = sf.kind
	}
	if sf.path != "" {
		opts.Path = sf.path
	}
	if sf.every > 0 {
		opts.Every = sf.every
	}
	if suffix != "" && opts.Path != "" {
		opts.Path += "-" + suffix
	}
	return opts
}

func receiverConfig(name string, log *zerolog.Logger) receiver.Config {
	return receiver.Config{
		Name:         name,
		Decoder:      cfg.DecoderConfig(),
		Convert:      cfg.ConvertOption(),
		OutputWidth:  cfg.OutputWidth,
		OutputHeight: cfg.OutputHeight,
		Logger:       log,
	}
}

func logStats(name string, st receiver.Stats) {
	logger.Info().
		Str("stream", name).
		Uint64("connects", st.Connects).
		Uint64("packets", st.Packets).
		Uint64("frames", st.Frames).
		Uint64("param_changes", st.ParamChanges).
		Str("size", fmt.Sprintf("%dx%d", st.Width, st.Height)).
		Msg("stream stopped")
}
