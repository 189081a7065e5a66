package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/thesyncim/streamdec"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List decode backends and whether they can be loaded",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "BACKEND\tAVAILABLE\tFEATURES")
		for _, p := range streamdec.Providers() {
			fmt.Fprintf(tw, "%s\t%t\t%s\n", p, p.Available(), featureNames(p.Features()))
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(backendsCmd)
}

func featureNames(f streamdec.Features) string {
	var names []string
	for _, n := range []struct {
		f    streamdec.Features
		name string
	}{
		{streamdec.FeatureHardware, "hardware"},
		{streamdec.FeatureAsync, "async"},
		{streamdec.FeatureDynamicResolution, "dynamic-resolution"},
		{streamdec.FeatureNative, "native"},
	} {
		if f.Has(n.f) {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}
