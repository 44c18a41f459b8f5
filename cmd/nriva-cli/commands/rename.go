package commands

import (
	"log/slog"

	"nriva-archiver/lib/serviceutil"
	"nriva-archiver/services/archiver"

	"github.com/spf13/cobra"
)

var renameDir *string

func init() {
	renameDir = renameCmd.Flags().String("archive", "archive", "The archive whose profile directories to re-key.")
	rootCmd.AddCommand(renameCmd)
}

var renameCmd = &cobra.Command{
	Use:   "rename [--archive <path/to/archive>]",
	Short: "Re-keys profile directories by the profile id stored in each record.",
	Long: "Earlier runs keyed profile directories by the search result's member id. " +
		"This walks the archive and renames each directory to the profile id recorded " +
		"in its profile_data.json, leaving collisions untouched.",
	Run: func(cmd *cobra.Command, args []string) {
		archive, err := archiver.NewArchive(*renameDir)
		if err != nil {
			serviceutil.Fatal("failed to open archive", err)
		}

		renamed, skipped, err := archive.RenameProfileDirs()
		if err != nil {
			serviceutil.Fatal("rename pass failed", err)
		}
		slog.Info("rename pass complete", "renamed", renamed, "skipped", len(skipped))
		for _, reason := range skipped {
			slog.Warn("skipped directory", "reason", reason)
		}
	},
}
