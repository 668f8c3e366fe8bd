package cmd

import (
	"fmt"

	"github.com/marmos91/dittomount/pkg/config"
	"github.com/marmos91/dittomount/pkg/journal"
	"github.com/marmos91/dittomount/pkg/layout"
	"github.com/spf13/cobra"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect and update the modified-disk journal",
}

var journalRecordCmd = &cobra.Command{
	Use:   "record <path>...",
	Short: "Mark disk images as modified",
	Long: `Append paths to the modified-disk journal, the way the emulation core does
when a mounted image is written. Paths already in the journal are skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runJournalRecord,
}

var journalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the downloadable journal entries",
	Args:  cobra.NoArgs,
	RunE:  runJournalList,
}

func init() {
	journalCmd.AddCommand(journalRecordCmd)
	journalCmd.AddCommand(journalListCmd)
	rootCmd.AddCommand(journalCmd)
}

func openJournal(cmd *cobra.Command) (*journal.Journal, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	fs, err := config.CreateFilesystem(cmd.Context(), &cfg.Storage)
	if err != nil {
		return nil, err
	}
	return journal.New(fs, layout.New(cfg.Storage.Root)), nil
}

func runJournalRecord(cmd *cobra.Command, args []string) error {
	j, err := openJournal(cmd)
	if err != nil {
		return err
	}

	changed, err := j.RecordDirty(args)
	if err != nil {
		return fmt.Errorf("failed to record: %w", err)
	}
	if !changed {
		fmt.Fprintln(cmd.OutOrStdout(), "Journal unchanged")
		return nil
	}

	sum, err := j.LoadSummary()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Journal updated: %d entries (id %08x)\n", sum.Count, sum.Checksum)
	return nil
}

func runJournalList(cmd *cobra.Command, args []string) error {
	j, err := openJournal(cmd)
	if err != nil {
		return err
	}

	entries, _, err := j.LoadDetailed()
	if err != nil {
		return err
	}
	for i, e := range entries {
		fmt.Fprintf(cmd.OutOrStdout(), "%3d  %-24s %s\n", i+1, e.DisplayName, e.FullPath)
	}
	return nil
}
