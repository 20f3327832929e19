package transport

import (
	"context"
	"fmt"
	"slices"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"

	"github.com/nhle/scanrelay/internal/mailparse"
	"github.com/nhle/scanrelay/internal/model"
)

// textSection is the TEXT part of a message, read without setting \Seen.
var textSection = &imap.FetchItemBodySection{
	Specifier: imap.PartSpecifierText,
	Peek:      true,
}

// IMAPTransport implements Transport on top of go-imap v2.
type IMAPTransport struct {
	client *imapclient.Client
	addr   string
}

var _ Transport = (*IMAPTransport)(nil)

// Dial connects to the server described by cfg. The returned transport
// is not yet authenticated.
func Dial(cfg model.IMAPConfig) (*IMAPTransport, error) {
	addr := cfg.Addr()

	var client *imapclient.Client
	var err error

	switch cfg.Security {
	case model.SecurityTLS:
		client, err = imapclient.DialTLS(addr, nil)
	case model.SecurityInsecure:
		client, err = imapclient.DialInsecure(addr, nil)
	default:
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	return &IMAPTransport{client: client, addr: addr}, nil
}

// Authenticate logs in with the first mechanism both sides support:
// SASL PLAIN, SASL LOGIN, then the LOGIN command.
func (t *IMAPTransport) Authenticate(
	ctx context.Context, username, password string,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	caps := t.client.Caps()

	var err error
	switch {
	case caps.Has(imap.AuthCap(sasl.Plain)):
		err = t.client.Authenticate(sasl.NewPlainClient("", username, password))
	case caps.Has(imap.AuthCap(sasl.Login)):
		err = t.client.Authenticate(sasl.NewLoginClient(username, password))
	case !caps.Has(imap.CapLoginDisabled):
		err = t.client.Login(username, password).Wait()
	default:
		return fmt.Errorf("authenticating %s at %s: %w", username, t.addr, ErrNoSupportedAuth)
	}
	if err != nil {
		return t.wrap(fmt.Sprintf("authenticating %s at %s", username, t.addr), err)
	}

	return nil
}

// ListMailboxes returns the names of all mailboxes.
func (t *IMAPTransport) ListMailboxes(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := t.client.List("", "*", nil).Collect()
	if err != nil {
		return nil, t.wrap("listing mailboxes", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Mailbox)
	}
	return names, nil
}

// Select opens mailbox read-write. The unseen count is taken from a
// STATUS query and left unset if the server refuses it.
func (t *IMAPTransport) Select(
	ctx context.Context, mailbox string,
) (mailparse.StatusRecord, error) {
	var rec mailparse.StatusRecord

	if err := ctx.Err(); err != nil {
		return rec, err
	}
	if mailbox == "" {
		return rec, ErrNullMailbox
	}

	data, err := t.client.Select(mailbox, nil).Wait()
	if err != nil {
		return rec, t.wrap(fmt.Sprintf("selecting %s", mailbox), err)
	}

	readWrite := slices.Contains(data.PermanentFlags, imap.FlagSeen) ||
		slices.Contains(data.PermanentFlags, imap.FlagWildcard)
	exists := data.NumMessages
	rec.ReadWrite = &readWrite
	rec.Exists = &exists

	status, err := t.client.Status(mailbox, &imap.StatusOptions{
		NumUnseen: true,
	}).Wait()
	if err == nil {
		rec.Unseen = status.NumUnseen
	}

	return rec, nil
}

// SearchUnseen returns the UIDs of unseen messages in the selected
// mailbox.
func (t *IMAPTransport) SearchUnseen(ctx context.Context) ([]imap.UID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}

	data, err := t.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, t.wrap("searching unseen messages", err)
	}
	return data.AllUIDs(), nil
}

// FetchText peeks at the TEXT section of every message in uids.
func (t *IMAPTransport) FetchText(
	ctx context.Context, uids []imap.UID,
) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		return nil, nil
	}

	fetchOpts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{textSection},
	}

	bufs, err := t.client.Fetch(imap.UIDSetNum(uids...), fetchOpts).Collect()
	if err != nil {
		return nil, t.wrap(fmt.Sprintf("fetching %d messages", len(uids)), err)
	}

	messages := make([]Message, 0, len(bufs))
	for _, buf := range bufs {
		messages = append(messages, Message{
			UID:  buf.UID,
			Text: buf.FindBodySection(textSection),
		})
	}
	return messages, nil
}

// MarkSeen adds \Seen to every message in uids in a single STORE.
func (t *IMAPTransport) MarkSeen(ctx context.Context, uids []imap.UID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(uids) == 0 {
		return nil
	}

	storeCmd := t.client.Store(imap.UIDSetNum(uids...), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)

	if err := storeCmd.Close(); err != nil {
		return t.wrap(fmt.Sprintf("flagging %d messages seen", len(uids)), err)
	}
	return nil
}

// Close logs out and closes the connection.
func (t *IMAPTransport) Close() error {
	_ = t.client.Logout().Wait()
	return t.client.Close()
}

// wrap annotates err and marks it with ErrSessionClosed when the
// connection has gone away.
func (t *IMAPTransport) wrap(op string, err error) error {
	select {
	case <-t.client.Closed():
		return fmt.Errorf("%s: %w: %w", op, ErrSessionClosed, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
