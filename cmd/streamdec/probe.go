package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/thesyncim/streamdec"
	"github.com/thesyncim/streamdec/ingest"
	"github.com/thesyncim/streamdec/internal/logging"
)

var probeFormat string

var probeCmd = &cobra.Command{
	Use:   "probe FILE",
	Short: "Print the stream parameters of a recording",
	Long: `Read a recorded stream without decoding it and print what its sequence
headers describe, as YAML.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, ok := ingest.ParseFileFormat(probeFormat)
		if !ok {
			return fmt.Errorf("unknown file format %q", probeFormat)
		}
		report, err := probeFile(cmd.Context(), args[0], format)
		if err != nil {
			return err
		}
		return writeYAML(cmd.OutOrStdout(), report)
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().StringVar(&probeFormat, "format", "auto", "file format: auto, framed, annexb or mp4")
}

// probeReport summarizes a recording.
type probeReport struct {
	File         string                  `yaml:"file"`
	Packets      int                     `yaml:"packets"`
	Bytes        int                     `yaml:"bytes"`
	Keyframes    int                     `yaml:"keyframes"`
	Profile      string                  `yaml:"profile,omitempty"`
	Params       *streamdec.StreamParams `yaml:"params,omitempty"`
	ParamChanges int                     `yaml:"param_changes"`
	HeaderErrors int                     `yaml:"header_errors,omitempty"`
}

func probeFile(ctx context.Context, path string, format ingest.FileFormat) (*probeReport, error) {
	report := &probeReport{File: path}
	var last streamdec.StreamParams

	log := logging.FromContext(ctx)
	src := ingest.NewFileSource(ingest.FileConfig{Path: path, Format: format, Logger: log})
	err := src.Run(ctx, ingest.HandlerFuncs{
		OnPacket: func(_ context.Context, pkt ingest.Packet) error {
			report.Packets++
			report.Bytes += len(pkt.Payload)
			for _, u := range streamdec.SplitAnnexB(pkt.Payload) {
				if u.Type == streamdec.NALTypeIDR {
					report.Keyframes++
					break
				}
			}

			params, _, err := streamdec.ParseStreamParams(pkt.Payload)
			switch {
			case errors.Is(err, streamdec.ErrNeedMoreData):
				return nil
			case err != nil:
				report.HeaderErrors++
				log.Debug().Err(err).Int("packet", report.Packets).Msg("bad sequence header")
				return nil
			}
			if report.Params == nil {
				report.Params = &params
				report.Profile = params.Profile.String()
			} else if !params.SameGeometry(last) {
				report.ParamChanges++
			}
			last = params
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
