package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/chriscow/rtvad/pkg/plugin"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Probability source plugin commands",
}

var pluginsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered probability sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, logger, err := setup(cmd)
		if err != nil {
			return err
		}

		plugins := plugin.List()
		if len(plugins) == 0 {
			fmt.Println("No plugins registered")
			return nil
		}

		fmt.Printf("%-12s %-10s %s\n", "NAME", "VERSION", "DESCRIPTION")
		fmt.Println("------------------------------------------------------------")
		for _, p := range plugins {
			version := p.Version
			if version == "" {
				version = "N/A"
			}
			description := p.Description
			if description == "" {
				description = "No description"
			}
			fmt.Printf("%-12s %-10s %s\n", p.Name, version, description)
		}

		logger.Debug("Listed plugins", slog.Int("count", len(plugins)))
		return nil
	},
}

var pluginsDownloadCmd = &cobra.Command{
	Use:   "download-files",
	Short: "Download missing model files for all registered plugins",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		dir, _ := cmd.Flags().GetString("dir")

		downloaded, failed := 0, 0
		for _, p := range plugin.List() {
			if p.Downloader == nil {
				logger.Debug("No model files for plugin", slog.String("name", p.Name))
				continue
			}
			logger.Info("Downloading model files", slog.String("name", p.Name))
			if err := p.Downloader.Download(cmd.Context(), dir); err != nil {
				logger.Error("Failed to download model files",
					slog.String("name", p.Name),
					slog.String("error", err.Error()))
				failed++
				continue
			}
			downloaded++
		}

		fmt.Printf("Model files ready for %d plugins", downloaded)
		if failed > 0 {
			fmt.Printf(" (%d errors)", failed)
		}
		fmt.Println()

		if failed > 0 {
			return fmt.Errorf("failed to download model files for %d plugins", failed)
		}
		return nil
	},
}

var pluginsLoadCmd = &cobra.Command{
	Use:   "load [directory]",
	Short: "Load dynamic plugins from directory (Linux only with -tags=plugindyn)",
	Long: `Load .so plugin files from the specified directory.
If no directory is specified, uses the RTVAD_PLUGIN_PATH environment variable
or defaults to /usr/local/lib/rtvad/plugins.

Each plugin .so file must export a RegisterPlugins() error function.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, logger, err := setup(cmd)
		if err != nil {
			return err
		}

		dir := ""
		if len(args) > 0 {
			dir = args[0]
		}
		if err := plugin.LoadDynamicPlugins(dir); err != nil {
			logger.Error("Failed to load dynamic plugins", slog.String("error", err.Error()))
			return err
		}

		for _, p := range plugin.List() {
			fmt.Println(p.Name)
		}
		return nil
	},
}
