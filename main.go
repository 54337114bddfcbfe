package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	version  = "0.1.0"
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:           "andmon",
	Short:         "Low-latency viewer for a live screen stream",
	Long:          `andmon connects to a screen capture server, negotiates the best codec this host can decode and shows the stream in a local web viewer.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runPlayer,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the server and play the stream",
	Args:  cobra.NoArgs,
	RunE:  runPlayer,
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Print the codec offer this host would send",
	Args:  cobra.NoArgs,
	RunE:  runProbe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "andmon v%s\n", version)
	},
}

func addRunFlags(fs *pflag.FlagSet) {
	fs.String("server", "", "stream server host")
	fs.Int("port", 0, "stream server port (default 8767)")
	fs.Bool("discover", false, "find the server over mDNS")
	fs.String("viewer-addr", "", "viewer listen address (default :8000)")
	fs.Bool("no-decoder", false, "skip the streaming decoder and offer only the fallback codec")
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./andmon.yaml, ~/.config/andmon/andmon.yaml or /etc/andmon/andmon.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	addRunFlags(rootCmd.Flags())
	addRunFlags(runCmd.Flags())
	probeCmd.Flags().Bool("no-decoder", false, "report the offer without a streaming decoder")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "andmon:", err)
		os.Exit(1)
	}
}
