package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/scanrelay/internal/credential"
	"github.com/nhle/scanrelay/internal/mailparse"
	"github.com/nhle/scanrelay/internal/store"
	"github.com/nhle/scanrelay/internal/testutil"
	"github.com/nhle/scanrelay/internal/transport"
)

var testConfig = Config{
	Username:     "scanner@example.com",
	Mailbox:      "INBOX",
	Marker:       "CANON",
	PollInterval: time.Second,
}

// scanText builds the TEXT section of a message carrying one attachment.
func scanText(title, filename string, payload []byte) string {
	return strings.Join([]string{
		"---- " + title,
		`filename="` + filename + `"`,
		"Content-Transfer-Encoding: base64",
		"",
		base64.URLEncoding.EncodeToString(payload),
	}, "\n\r")
}

type harness struct {
	transport *testutil.FakeTransport
	dir       string
	pipeline  *Pipeline
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	dir := t.TempDir()
	files, err := store.NewFiles(dir)
	require.NoError(t, err)

	tr := testutil.NewFakeTransport("Archive", "INBOX", "Sent")
	return &harness{
		transport: tr,
		dir:       dir,
		pipeline:  New(tr, credential.Plain{Password: "secret"}, files, testConfig, opts...),
	}
}

func (h *harness) files(t *testing.T) []string {
	t.Helper()

	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestNext(t *testing.T) {
	tests := []struct {
		from    State
		outcome Outcome
		want    State
	}{
		{StateInit, Advance, StateAuthenticated},
		{StateAuthenticated, Advance, StateMailboxesListed},
		{StateMailboxesListed, Advance, StateMailboxSelected},
		{StateMailboxSelected, Advance, StateSearched},
		{StateMailboxSelected, Skip, StateSleeping},
		{StateSearched, Advance, StateFetched},
		{StateFetched, Advance, StateProcessed},
		{StateFetched, Skip, StateSleeping},
		{StateProcessed, Advance, StateSleeping},
		{StateSleeping, Advance, StateMailboxSelected},
		{StateSearched, Fail, StateHalted},
		{StateInit, Fail, StateHalted},
		{StateHalted, Advance, StateHalted},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%d", tt.from, tt.outcome), func(t *testing.T) {
			assert.Equal(t, tt.want, Next(tt.from, tt.outcome))
		})
	}
}

func TestRunCycleDownloadsOnlyQualifying(t *testing.T) {
	h := newHarness(t)
	tr := h.transport

	tr.Add(1, scanText("CANON scan", "one.pdf", []byte("first scan")))
	tr.Add(2, scanText("=_Part_0", "invoice.pdf", []byte("not a scan")))
	tr.Add(3, scanText("CANON scan", "two.pdf", []byte("second scan")))
	tr.Add(4, "---- CANON scan\n\rfilename=\"three.pdf\"\n\rQUJD")

	report, err := h.pipeline.RunCycle(context.Background(), StateInit)
	require.NoError(t, err)

	assert.Equal(t, StateSleeping, report.End)
	assert.Equal(t, "INBOX", report.Mailbox)
	assert.Equal(t, 4, report.Found)
	assert.Equal(t, 2, report.Skipped)
	require.Len(t, report.Downloads, 2)

	assert.ElementsMatch(t, []string{"one.pdf", "two.pdf"}, h.files(t))
	data, err := os.ReadFile(filepath.Join(h.dir, "two.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "second scan", string(data))

	require.Len(t, tr.Marked, 1)
	assert.Equal(t, []imap.UID{1, 3}, tr.Marked[0])
	assert.Equal(t, []imap.UID{1, 3}, report.Flagged)
	assert.False(t, tr.Seen[2])
	assert.False(t, tr.Seen[4])

	assert.Equal(t, []string{
		"authenticate scanner@example.com",
		"list",
		"select INBOX",
		"search",
		"fetch",
		"mark",
	}, tr.Calls)
}

func TestRunCycleNoUnseenSkipsFetch(t *testing.T) {
	h := newHarness(t)

	report, err := h.pipeline.RunCycle(context.Background(), StateInit)
	require.NoError(t, err)

	assert.Equal(t, StateSleeping, report.End)
	assert.Zero(t, h.transport.Count("fetch"))
	assert.Zero(t, h.transport.Count("mark"))
}

func TestRunCycleNothingQualifiesSkipsFlag(t *testing.T) {
	h := newHarness(t)
	h.transport.Add(7, scanText("newsletter", "a.pdf", []byte("x")))

	report, err := h.pipeline.RunCycle(context.Background(), StateInit)
	require.NoError(t, err)

	assert.Equal(t, StateSleeping, report.End)
	assert.Equal(t, 1, h.transport.Count("fetch"))
	assert.Zero(t, h.transport.Count("mark"))
	assert.Empty(t, h.files(t))
}

func TestRunCycleSelectsIgnoringCase(t *testing.T) {
	h := newHarness(t)
	h.transport.Mailboxes = []string{"Archive", "Inbox"}
	h.transport.Status = mailparse.StatusRecord{}

	report, err := h.pipeline.RunCycle(context.Background(), StateInit)
	require.NoError(t, err)

	assert.Contains(t, h.transport.Calls, "select Inbox")
	assert.Equal(t, "Inbox", report.Mailbox)
	require.NotNil(t, report.Summary)
	assert.Equal(t, mailparse.MailboxSummary{ReadOnly: true}, *report.Summary)
}

func TestRunCycleMailboxMissHalts(t *testing.T) {
	h := newHarness(t)
	h.transport.Mailboxes = []string{"Archive", "Sent"}

	report, err := h.pipeline.RunCycle(context.Background(), StateInit)
	require.Error(t, err)

	assert.ErrorIs(t, err, transport.ErrNullMailbox)
	assert.True(t, isStage(err, StageSelect))
	assert.Equal(t, StateHalted, report.End)
	assert.Contains(t, h.transport.Calls, "select ")
	assert.Zero(t, h.transport.Count("search"))
}

func TestRunCycleTransportFailuresHalt(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name  string
		setup func(*testutil.FakeTransport)
		stage Stage
	}{
		{"list", func(f *testutil.FakeTransport) { f.ListErr = boom }, StageList},
		{"select", func(f *testutil.FakeTransport) { f.SelectErr = boom }, StageSelect},
		{"search", func(f *testutil.FakeTransport) { f.SearchErr = boom }, StageSearch},
		{"fetch", func(f *testutil.FakeTransport) { f.FetchErr = boom }, StageFetch},
		{"flag", func(f *testutil.FakeTransport) { f.MarkErr = boom }, StageFlag},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.transport.Add(1, scanText("CANON", "a.pdf", []byte("scan")))
			tt.setup(h.transport)

			report, err := h.pipeline.RunCycle(context.Background(), StateInit)
			require.ErrorIs(t, err, boom)
			assert.True(t, isStage(err, tt.stage))
			assert.Equal(t, StateHalted, report.End)
			assert.Empty(t, h.transport.Seen)
		})
	}
}

type failingSink struct {
	fail string
	next Sink
}

func (s failingSink) Save(name string, data []byte) (string, error) {
	if name == s.fail {
		return "", errors.New("disk full")
	}
	return s.next.Save(name, data)
}

func TestRunCycleSaveFailureLeavesMessageUnseen(t *testing.T) {
	dir := t.TempDir()
	files, err := store.NewFiles(dir)
	require.NoError(t, err)

	tr := testutil.NewFakeTransport("INBOX")
	tr.Add(1, scanText("CANON", "bad.pdf", []byte("x")))
	tr.Add(2, scanText("CANON", "good.pdf", []byte("y")))
	tr.Add(3, scanText("CANON", "broken.pdf", nil)+"*not base64*")

	p := New(tr, credential.Plain{Password: "secret"}, failingSink{fail: "bad.pdf", next: files}, testConfig)

	report, err := p.RunCycle(context.Background(), StateInit)
	require.NoError(t, err)

	assert.Equal(t, []imap.UID{2}, report.Flagged)
	assert.Equal(t, 2, report.Skipped)
	assert.True(t, tr.Seen[2])
	assert.False(t, tr.Seen[1])
	assert.False(t, tr.Seen[3])
}

func TestRunCycleRecordsJournal(t *testing.T) {
	journal := testutil.NewTestJournal(t)
	h := newHarness(t, WithJournal(journal))
	h.transport.Add(9, scanText("CANON", "scan.pdf", []byte("hello")))

	_, err := h.pipeline.RunCycle(context.Background(), StateInit)
	require.NoError(t, err)

	got, err := journal.RecentDownloads(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint32(9), got[0].UID)
	assert.Equal(t, "INBOX", got[0].Mailbox)
	assert.Equal(t, "scan.pdf", got[0].Filename)
	assert.Equal(t, int64(5), got[0].Size)
}

// stopAfter returns a sleep function that cancels the run on its nth call.
func stopAfter(n int, cancel context.CancelFunc, calls *int) func(context.Context, time.Duration) error {
	return func(ctx context.Context, _ time.Duration) error {
		*calls++
		if *calls >= n {
			cancel()
			return ctx.Err()
		}
		return nil
	}
}

func TestRunReusesSessionBetweenCycles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sleeps := 0
	h := newHarness(t, WithSleep(stopAfter(3, cancel, &sleeps)))
	h.transport.Add(1, scanText("CANON", "a.pdf", []byte("a")))

	require.NoError(t, h.pipeline.Run(ctx))

	assert.Equal(t, 3, sleeps)
	assert.Equal(t, 1, h.transport.Count("authenticate"))
	assert.Equal(t, 1, h.transport.Count("list"))
	assert.Equal(t, 1, h.transport.Count("select"))
	assert.Equal(t, 3, h.transport.Count("search"))
	assert.Equal(t, 1, h.transport.Count("fetch"))
	assert.Equal(t, 1, h.transport.Count("mark"))
}

// flakySearch fails the first search and then behaves normally.
type flakySearch struct {
	*testutil.FakeTransport
	failed bool
}

func (f *flakySearch) SearchUnseen(ctx context.Context) ([]imap.UID, error) {
	if !f.failed {
		f.failed = true
		f.Calls = append(f.Calls, "search")
		return nil, errors.New("temporary failure")
	}
	return f.FakeTransport.SearchUnseen(ctx)
}

func TestRunRetriesFromListingAfterHalt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	files, err := store.NewFiles(t.TempDir())
	require.NoError(t, err)

	fake := testutil.NewFakeTransport("INBOX")
	fake.Add(1, scanText("CANON", "a.pdf", []byte("a")))
	tr := &flakySearch{FakeTransport: fake}

	sleeps := 0
	p := New(tr, credential.Plain{Password: "secret"}, files, testConfig,
		WithSleep(stopAfter(2, cancel, &sleeps)))

	require.NoError(t, p.Run(ctx))

	assert.Equal(t, 1, fake.Count("authenticate"))
	assert.Equal(t, 2, fake.Count("list"))
	assert.Equal(t, 2, fake.Count("search"))
	assert.True(t, fake.Seen[1])
}

func TestRunAuthenticationFailureIsTerminal(t *testing.T) {
	sleeps := 0
	h := newHarness(t, WithSleep(func(context.Context, time.Duration) error {
		sleeps++
		return nil
	}))
	h.transport.AuthErr = transport.ErrNoSupportedAuth

	err := h.pipeline.Run(context.Background())
	require.ErrorIs(t, err, transport.ErrNoSupportedAuth)
	assert.True(t, isStage(err, StageAuthenticate))
	assert.Zero(t, sleeps)
	assert.Zero(t, h.transport.Count("list"))
}

func TestRunCredentialFailureIsTerminal(t *testing.T) {
	files, err := store.NewFiles(t.TempDir())
	require.NoError(t, err)
	tr := testutil.NewFakeTransport("INBOX")

	p := New(tr, credential.Plain{}, files, testConfig)

	err = p.Run(context.Background())
	require.ErrorIs(t, err, credential.ErrCredentialUnavailable)
	assert.Zero(t, tr.Count("authenticate"))
}

func TestRunStopsWhenSessionCloses(t *testing.T) {
	sleeps := 0
	h := newHarness(t, WithSleep(func(context.Context, time.Duration) error {
		sleeps++
		return nil
	}))
	h.transport.SearchErr = fmt.Errorf("searching: %w", transport.ErrSessionClosed)

	err := h.pipeline.Run(context.Background())
	require.ErrorIs(t, err, transport.ErrSessionClosed)
	assert.Zero(t, sleeps)
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "mailbox_selected", StateMailboxSelected.String())
	assert.Equal(t, "state(42)", State(42).String())
}
