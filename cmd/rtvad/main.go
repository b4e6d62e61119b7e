package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/chriscow/rtvad/internal/config"
	_ "github.com/chriscow/rtvad/pkg/plugin/energy" // Import to register energy source
	_ "github.com/chriscow/rtvad/pkg/plugin/fake"   // Import to register fake sources
	_ "github.com/chriscow/rtvad/pkg/plugin/silero" // Import to register silero source
	"github.com/chriscow/rtvad/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:   "rtvad",
	Short: "rtvad - real-time streaming voice activity detection",
	Long: `rtvad detects speech in a stream of audio frame by frame and emits speech
segments with their complete waveform. It runs offline over files or as a
websocket server with one detector per connection.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersionInfo())
	},
}

// setup loads the configuration named by --config and installs the logger
// it describes as the default.
func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	if source, _ := cmd.Flags().GetString("source"); source != "" {
		cfg.Source.Name = source
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to YAML configuration file")

	detectCmd.Flags().String("file", "", "WAV or raw float32 (.pcm) file to process")
	detectCmd.Flags().String("out", "segments", "Directory segment WAV files are written to")
	detectCmd.Flags().String("source", "", "Probability source (overrides source.name)")
	detectCmd.Flags().Int("rate", 0, "Sample rate of raw .pcm input (default engine.sample_rate)")
	detectCmd.MarkFlagRequired("file")

	serveCmd.Flags().String("source", "", "Probability source (overrides source.name)")

	streamCmd.Flags().String("url", "ws://localhost:8080/v1/stream", "Stream server URL")
	streamCmd.Flags().String("file", "", "WAV or raw float32 (.pcm) file to stream")
	streamCmd.Flags().String("out", "segments", "Directory segment WAV files are written to")
	streamCmd.Flags().Int("rate", 0, "Sample rate of raw .pcm input (default engine.sample_rate)")
	streamCmd.Flags().Bool("realtime", false, "Pace audio at playback speed")
	streamCmd.Flags().Int("retries", 3, "Connection attempts before giving up")
	streamCmd.MarkFlagRequired("file")

	modelDownloadCmd.Flags().String("version", "all", "Model version to download (v4|v5|all)")
	modelDownloadCmd.Flags().String("dir", "", "Model directory (default $RTVAD_MODEL_PATH or ~/.rtvad/models)")
	modelStageCmd.Flags().String("version", "v5", "Model version of the file (v4|v5)")
	modelStageCmd.Flags().String("dir", "", "Cache directory the model is staged into")

	pluginsDownloadCmd.Flags().String("dir", "", "Model directory (default $RTVAD_MODEL_PATH or ~/.rtvad/models)")

	modelCmd.AddCommand(modelDownloadCmd, modelStageCmd)
	pluginsCmd.AddCommand(pluginsListCmd, pluginsDownloadCmd, pluginsLoadCmd)
	rootCmd.AddCommand(versionCmd, detectCmd, serveCmd, streamCmd, modelCmd, pluginsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
