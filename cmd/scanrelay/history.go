package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nhle/scanrelay/internal/store"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent downloads from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Journal.Path == "" {
				return errors.New("journal.path is not configured")
			}

			journal, err := store.OpenJournal(cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer journal.Close()

			downloads, err := journal.RecentDownloads(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if len(downloads) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No downloads recorded.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderHistory(downloads))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of downloads to show")
	return cmd
}

func renderHistory(downloads []store.Download) string {
	rows := make([][]string, 0, len(downloads))
	for _, d := range downloads {
		rows = append(rows, []string{
			d.DownloadedAt.Local().Format("2006-01-02 15:04"),
			d.Mailbox,
			strconv.FormatUint(uint64(d.UID), 10),
			d.Filename,
			humanize.Bytes(uint64(d.Size)),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("DOWNLOADED", "MAILBOX", "UID", "FILE", "SIZE").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	return t.String()
}
