package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/meetscribe/internal/audio"
)

var devicesJSON bool

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio devices and how they are classified",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		host, err := openHost()
		if err != nil {
			return err
		}
		defer func() { _ = host.Close() }()
		return listDevices(cmd.OutOrStdout(), audio.NewCatalog(host, cfg.ExcludedAudioDevices), devicesJSON)
	},
}

func init() {
	devicesCmd.Flags().BoolVar(&devicesJSON, "json", false, "print JSON")
}

type deviceLister interface {
	ListInputDevices() ([]audio.DeviceDescriptor, error)
	ListOutputDevices() ([]audio.DeviceDescriptor, error)
}

func listDevices(w io.Writer, catalog deviceLister, asJSON bool) error {
	inputs, err := catalog.ListInputDevices()
	if err != nil {
		return err
	}
	outputs, err := catalog.ListOutputDevices()
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string][]audio.DeviceDescriptor{"inputs": inputs, "outputs": outputs})
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tINDEX\tNAME\tCLASS\tHOST API\tRATE")
	for _, d := range inputs {
		fmt.Fprintf(tw, "input\t%d\t%s\t%s\t%s\t%.0f\n", d.Index, d.Name, d.Class, d.HostAPI, d.DefaultSampleRate)
	}
	for _, d := range outputs {
		fmt.Fprintf(tw, "output\t%d\t%s\t%s\t%s\t%.0f\n", d.Index, d.Name, d.Class, d.HostAPI, d.DefaultSampleRate)
	}
	return tw.Flush()
}
