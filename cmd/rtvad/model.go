package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/chriscow/rtvad/pkg/plugin/silero"
	"github.com/chriscow/rtvad/pkg/vad"
)

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Silero model management commands",
}

var modelDownloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download Silero VAD models",
	Long: `Download the Silero VAD ONNX models. Models are stored in
$RTVAD_MODEL_PATH or ~/.rtvad/models unless --dir is given. Existing files
are left untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		which, _ := cmd.Flags().GetString("version")
		dir, _ := cmd.Flags().GetString("dir")

		versions := []vad.ModelVersion{vad.ModelV4, vad.ModelV5}
		if which != "all" {
			v, err := vad.ParseModelVersion(which)
			if err != nil {
				return err
			}
			versions = []vad.ModelVersion{v}
		}

		d := &silero.Downloader{}
		for _, v := range versions {
			path, err := d.DownloadVersion(cmd.Context(), v, dir)
			if err != nil {
				logger.Error("Failed to download model",
					slog.String("version", v.String()),
					slog.String("error", err.Error()))
				return err
			}
			fmt.Printf("%s\t%s\n", v, path)
		}
		return nil
	},
}

var modelStageCmd = &cobra.Command{
	Use:   "stage [file]",
	Short: "Copy a packaged model into a writable cache directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		which, _ := cmd.Flags().GetString("version")
		dir, _ := cmd.Flags().GetString("dir")

		v, err := vad.ParseModelVersion(which)
		if err != nil {
			return err
		}
		if dir == "" {
			dir = os.TempDir()
		}

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		path, err := silero.Stage(f, v, dir)
		if err != nil {
			return err
		}
		logger.Info("Model staged", slog.String("path", path), slog.String("version", v.String()))
		fmt.Println(path)
		return nil
	},
}
