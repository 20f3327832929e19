package testutil

import (
	"context"
	"slices"
	"strings"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/scanrelay/internal/mailparse"
	"github.com/nhle/scanrelay/internal/transport"
)

// FakeTransport is an in-memory transport.Transport. Messages are unseen
// until MarkSeen flags them. Set the *Err fields to make a verb fail.
type FakeTransport struct {
	Mailboxes []string
	Status    mailparse.StatusRecord
	Messages  map[imap.UID][]byte
	Seen      map[imap.UID]bool

	AuthErr   error
	ListErr   error
	SelectErr error
	SearchErr error
	FetchErr  error
	MarkErr   error

	// Calls records each verb in order, e.g. "select INBOX".
	Calls []string

	// Fetched and Marked record the UID sets passed to FetchText and
	// MarkSeen.
	Fetched [][]imap.UID
	Marked  [][]imap.UID

	Closed bool
}

var _ transport.Transport = (*FakeTransport)(nil)

// NewFakeTransport returns a transport with the given mailboxes and no
// messages.
func NewFakeTransport(mailboxes ...string) *FakeTransport {
	return &FakeTransport{
		Mailboxes: mailboxes,
		Messages:  make(map[imap.UID][]byte),
		Seen:      make(map[imap.UID]bool),
	}
}

// Add stores an unseen message.
func (f *FakeTransport) Add(uid imap.UID, text string) {
	f.Messages[uid] = []byte(text)
}

// Count returns how many times verb was called.
func (f *FakeTransport) Count(verb string) int {
	n := 0
	for _, call := range f.Calls {
		if call == verb || strings.HasPrefix(call, verb+" ") {
			n++
		}
	}
	return n
}

func (f *FakeTransport) Authenticate(_ context.Context, username, _ string) error {
	f.Calls = append(f.Calls, "authenticate "+username)
	return f.AuthErr
}

func (f *FakeTransport) ListMailboxes(_ context.Context) ([]string, error) {
	f.Calls = append(f.Calls, "list")
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	return slices.Clone(f.Mailboxes), nil
}

func (f *FakeTransport) Select(_ context.Context, mailbox string) (mailparse.StatusRecord, error) {
	f.Calls = append(f.Calls, "select "+mailbox)
	if mailbox == "" {
		return mailparse.StatusRecord{}, transport.ErrNullMailbox
	}
	if f.SelectErr != nil {
		return mailparse.StatusRecord{}, f.SelectErr
	}
	return f.Status, nil
}

func (f *FakeTransport) SearchUnseen(_ context.Context) ([]imap.UID, error) {
	f.Calls = append(f.Calls, "search")
	if f.SearchErr != nil {
		return nil, f.SearchErr
	}

	var uids []imap.UID
	for uid := range f.Messages {
		if !f.Seen[uid] {
			uids = append(uids, uid)
		}
	}
	slices.Sort(uids)
	return uids, nil
}

func (f *FakeTransport) FetchText(_ context.Context, uids []imap.UID) ([]transport.Message, error) {
	f.Calls = append(f.Calls, "fetch")
	f.Fetched = append(f.Fetched, slices.Clone(uids))
	if f.FetchErr != nil {
		return nil, f.FetchErr
	}

	messages := make([]transport.Message, 0, len(uids))
	for _, uid := range uids {
		if text, ok := f.Messages[uid]; ok {
			messages = append(messages, transport.Message{UID: uid, Text: text})
		}
	}
	return messages, nil
}

func (f *FakeTransport) MarkSeen(_ context.Context, uids []imap.UID) error {
	f.Calls = append(f.Calls, "mark")
	f.Marked = append(f.Marked, slices.Clone(uids))
	if f.MarkErr != nil {
		return f.MarkErr
	}
	for _, uid := range uids {
		f.Seen[uid] = true
	}
	return nil
}

func (f *FakeTransport) Close() error {
	f.Closed = true
	return nil
}
