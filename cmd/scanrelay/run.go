package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nhle/scanrelay/internal/credential"
	"github.com/nhle/scanrelay/internal/logging"
	"github.com/nhle/scanrelay/internal/pipeline"
	"github.com/nhle/scanrelay/internal/store"
	"github.com/nhle/scanrelay/internal/transport"
)

func newRunCmd(root *rootOptions) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the mailbox and download scanned attachments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), root, once)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single poll cycle and exit")
	return cmd
}

func runPipeline(ctx context.Context, root *rootOptions, once bool) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", root.configPath, err)
	}

	log, err := logging.New(os.Stderr, cfg.Log)
	if err != nil {
		return err
	}

	creds, err := credential.FromConfig(cfg.Credential)
	if err != nil {
		return err
	}

	files, err := store.NewFiles(cfg.Pipeline.LocalStore)
	if err != nil {
		return err
	}

	opts := []pipeline.Option{pipeline.WithLogger(log)}
	if cfg.Journal.Path != "" {
		journal, err := store.OpenJournal(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer journal.Close()
		opts = append(opts, pipeline.WithJournal(journal))
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("addr", cfg.IMAP.Addr()).
		Str("security", cfg.IMAP.Security).
		Msg("connecting")

	tr, err := transport.Dial(cfg.IMAP)
	if err != nil {
		return err
	}
	defer tr.Close()

	p := pipeline.New(tr, creds, files, pipeline.Config{
		Username:     cfg.IMAP.Username,
		Mailbox:      cfg.Pipeline.Mailbox,
		Marker:       cfg.Pipeline.Marker,
		PollInterval: cfg.Pipeline.PollInterval(),
	}, opts...)

	if once {
		report, err := p.RunCycle(ctx, pipeline.StateInit)
		if err != nil {
			return err
		}
		log.Info().
			Int("found", report.Found).
			Int("downloaded", len(report.Downloads)).
			Msg("poll cycle finished")
		return nil
	}

	if err := p.Run(ctx); err != nil {
		log.Error().Err(err).Msg("pipeline stopped")
		return err
	}
	log.Info().Msg("shutting down")
	return nil
}
