package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nhle/scanrelay/internal/credential"
	"github.com/nhle/scanrelay/internal/model"
)

func newInitCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a config file interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}

			if err := configForm(cfg).Run(); err != nil {
				return fmt.Errorf("config form: %w", err)
			}

			if err := model.SaveConfig(root.configPath, cfg); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote %s\n", root.configPath)
			if cfg.Credential.Source == model.CredentialKeyring {
				fmt.Fprintln(out, "Run `scanrelay login` to store the IMAP password in the keyring.")
			}
			return nil
		},
	}
}

// configForm edits cfg in place.
func configForm(cfg *model.AppConfig) *huh.Form {
	port := strconv.Itoa(cfg.IMAP.Port)
	interval := strconv.Itoa(cfg.Pipeline.PollIntervalSec)

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("IMAP host").
				Value(&cfg.IMAP.Host).
				Validate(huh.ValidateNotEmpty()),
			huh.NewInput().
				Title("IMAP port").
				Value(&port).
				Validate(func(s string) error {
					n, err := parsePositive(s)
					cfg.IMAP.Port = n
					return err
				}),
			huh.NewSelect[string]().
				Title("Connection security").
				Options(huh.NewOptions(
					model.SecurityStartTLS, model.SecurityTLS, model.SecurityInsecure,
				)...).
				Value(&cfg.IMAP.Security),
			huh.NewInput().
				Title("Username").
				Value(&cfg.IMAP.Username).
				Validate(huh.ValidateNotEmpty()),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Password source").
				Options(
					huh.NewOption("pass (password store)", model.CredentialPass),
					huh.NewOption("system keyring", model.CredentialKeyring),
					huh.NewOption("plain text in config", model.CredentialPlain),
				).
				Value(&cfg.Credential.Source),
			huh.NewInput().
				Title("pass entry").
				Description("Only used with the pass source.").
				Value(&cfg.Credential.PassEntry),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Mailbox").
				Value(&cfg.Pipeline.Mailbox).
				Validate(huh.ValidateNotEmpty()),
			huh.NewInput().
				Title("Download directory").
				Value(&cfg.Pipeline.LocalStore).
				Validate(huh.ValidateNotEmpty()),
			huh.NewInput().
				Title("Title marker").
				Description("Attachments whose title lacks it are ignored.").
				Value(&cfg.Pipeline.Marker),
			huh.NewInput().
				Title("Poll interval (seconds)").
				Value(&interval).
				Validate(func(s string) error {
					n, err := parsePositive(s)
					cfg.Pipeline.PollIntervalSec = n
					return err
				}),
			huh.NewInput().
				Title("Download journal").
				Description("SQLite file recording downloads; leave empty to disable.").
				Value(&cfg.Journal.Path),
		),
	)
}

func parsePositive(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%q is not a positive number", s)
	}
	return n, nil
}

func newLoginCmd(root *rootOptions) *cobra.Command {
	var remove bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the IMAP password in the system keyring",
		Long: "Store the IMAP password in the system keyring under credential.keyring_key.\n" +
			"The password is prompted for on a terminal and read from stdin otherwise.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			key := cfg.Credential.KeyringKey

			if remove {
				if err := credential.Delete(key); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed keyring entry %q\n", key)
				return nil
			}

			var password string
			if term.IsTerminal(int(os.Stdin.Fd())) {
				password, err = promptPassword(cfg.IMAP.Username)
			} else {
				password, err = readPassword(cmd.InOrStdin())
			}
			if err != nil {
				return err
			}

			if err := credential.Set(key, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored password in keyring entry %q\n", key)
			return nil
		},
	}

	cmd.Flags().BoolVar(&remove, "delete", false, "remove the stored password instead")
	return cmd
}

func promptPassword(username string) (string, error) {
	var password string
	err := huh.NewInput().
		Title(fmt.Sprintf("IMAP password for %s", username)).
		EchoMode(huh.EchoModePassword).
		Value(&password).
		Validate(huh.ValidateNotEmpty()).
		Run()
	if err != nil {
		return "", fmt.Errorf("password prompt: %w", err)
	}
	return password, nil
}

// readPassword reads the first line of r.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}

	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("no password on stdin")
	}
	return password, nil
}
