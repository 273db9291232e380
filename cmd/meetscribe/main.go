// meetscribe records meetings from the microphone and system audio and
// transcribes them segment by segment.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "meetscribe",
	Short: "Dual-source meeting transcription",
	Long: `meetscribe captures the microphone and a loopback device at the same time,
cuts the audio into fixed windows and sends each window to a speech recognizer.

Audio capture needs PortAudio. Build with

    go build -tags portaudio ./cmd/meetscribe

A binary built without the tag runs, but serve, record and devices report
"audio capture not available".`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("meetscribe v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (environment and .env are always read)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
