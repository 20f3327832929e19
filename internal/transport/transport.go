// Package transport exposes the IMAP verbs the polling pipeline drives.
package transport

import (
	"context"
	"errors"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/scanrelay/internal/mailparse"
)

var (
	// ErrNoSupportedAuth is returned by Authenticate when the server
	// offers no mechanism the client can use.
	ErrNoSupportedAuth = errors.New("no supported authentication mechanism")

	// ErrNullMailbox is returned by Select when no mailbox was chosen.
	ErrNullMailbox = errors.New("no mailbox selected")

	// ErrSessionClosed is returned once the server connection is gone.
	ErrSessionClosed = errors.New("imap session closed")
)

// Message is the TEXT section of a fetched message.
type Message struct {
	UID  imap.UID
	Text []byte
}

// Transport is a single authenticated IMAP session. Calls must not be
// issued concurrently.
type Transport interface {
	Authenticate(ctx context.Context, username, password string) error
	ListMailboxes(ctx context.Context) ([]string, error)

	// Select opens mailbox. An empty name fails with ErrNullMailbox.
	Select(ctx context.Context, mailbox string) (mailparse.StatusRecord, error)

	// SearchUnseen returns the UIDs of messages without the \Seen flag.
	SearchUnseen(ctx context.Context) ([]imap.UID, error)

	// FetchText peeks at the TEXT section of each message; it never sets
	// \Seen.
	FetchText(ctx context.Context, uids []imap.UID) ([]Message, error)

	// MarkSeen adds \Seen to every message in uids.
	MarkSeen(ctx context.Context, uids []imap.UID) error

	Close() error
}
