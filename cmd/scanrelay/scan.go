package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nhle/scanrelay/internal/mailparse"
	"github.com/nhle/scanrelay/internal/model"
)

func newScanCmd() *cobra.Command {
	var marker string
	var output string

	cmd := &cobra.Command{
		Use:   "scan FILE",
		Short: "Inspect a saved message TEXT section the way the pipeline would",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			info := mailparse.ScanAttachment(buf)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "title:         %q\n", info.Title)
			fmt.Fprintf(out, "filename:      %q\n", info.Filename)
			fmt.Fprintf(out, "encoding:      %q\n", info.Encoding)
			fmt.Fprintf(out, "payload start: %d\n", info.PayloadStart)
			fmt.Fprintf(out, "qualifies:     %t\n", mailparse.Qualifies(info, marker))

			if output == "" || !info.HasPayload() {
				return nil
			}

			data, err := mailparse.Decode(mailparse.Payload(buf, info), info.Encoding)
			if err != nil {
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", output, err)
			}
			fmt.Fprintf(out, "decoded %d bytes to %s\n", len(data), output)
			return nil
		},
	}

	cmd.Flags().StringVar(&marker, "marker", model.DefaultConfig().Pipeline.Marker, "title marker to qualify against")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the decoded payload to this file")
	return cmd
}
