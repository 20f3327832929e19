// Package pipeline polls an IMAP mailbox for scanned documents and saves
// their attachments.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/rs/zerolog"

	"github.com/nhle/scanrelay/internal/credential"
	"github.com/nhle/scanrelay/internal/mailparse"
	"github.com/nhle/scanrelay/internal/store"
	"github.com/nhle/scanrelay/internal/transport"
)

// Sink stores decoded attachments and returns where each was written.
type Sink interface {
	Save(name string, data []byte) (string, error)
}

// Recorder keeps an audit trail of downloads.
type Recorder interface {
	RecordDownload(ctx context.Context, d store.Download) (store.Download, error)
}

// Config holds the polling settings.
type Config struct {
	Username     string
	Mailbox      string
	Marker       string
	PollInterval time.Duration
}

// CycleReport describes what one poll cycle did.
type CycleReport struct {
	Mailbox   string
	Summary   *mailparse.MailboxSummary
	Found     int
	Downloads []store.Download
	Skipped   int
	Flagged   []imap.UID

	// End is StateSleeping for a clean cycle and StateHalted otherwise.
	End State
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

// WithJournal records every download in r.
func WithJournal(r Recorder) Option {
	return func(p *Pipeline) { p.journal = r }
}

// WithSleep replaces the wait between cycles.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(p *Pipeline) { p.sleep = sleep }
}

// Pipeline drives one IMAP session through repeated poll cycles. It is
// not safe for concurrent use; every transport call is issued from the
// goroutine running Run.
type Pipeline struct {
	transport transport.Transport
	creds     credential.Source
	files     Sink
	journal   Recorder
	cfg       Config
	log       zerolog.Logger
	sleep     func(context.Context, time.Duration) error

	// mailbox is the server's name for the selected mailbox.
	mailbox string
}

// New returns a pipeline that authenticates with creds over t and
// writes attachments to files.
func New(
	t transport.Transport,
	creds credential.Source,
	files Sink,
	cfg Config,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		transport: t,
		creds:     creds,
		files:     files,
		cfg:       cfg,
		log:       zerolog.Nop(),
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run authenticates and polls until ctx is cancelled, authentication
// fails or the session is lost. A halted cycle is retried after the
// poll interval starting from the mailbox listing; a clean cycle is
// followed by a fresh search on the same session.
func (p *Pipeline) Run(ctx context.Context) error {
	from := StateInit

	for {
		_, err := p.RunCycle(ctx, from)
		if ctx.Err() != nil {
			return nil
		}

		switch {
		case err == nil:
			from = Next(StateSleeping, Advance)
		case isStage(err, StageAuthenticate):
			return err
		case errors.Is(err, transport.ErrSessionClosed):
			return err
		default:
			from = StateAuthenticated
		}

		p.log.Info().
			Dur("interval", p.cfg.PollInterval).
			Msg("next poll scheduled")

		if err := p.sleep(ctx, p.cfg.PollInterval); err != nil {
			return nil
		}
	}
}

// RunCycle performs the steps from state from until the cycle sleeps or
// halts. The returned error is a *StageError when a step halted.
func (p *Pipeline) RunCycle(ctx context.Context, from State) (CycleReport, error) {
	c := &cycle{}
	state := from

	for state != StateSleeping && state != StateHalted {
		if err := ctx.Err(); err != nil {
			c.report.End = StateHalted
			return p.finish(c), err
		}

		step, ok := p.stepFrom(state)
		if !ok {
			c.report.End = StateHalted
			return p.finish(c), fmt.Errorf("no step leaves state %s", state)
		}

		outcome, err := step.run(ctx, c)
		if err != nil {
			stageErr := &StageError{Stage: step.stage, Mailbox: p.mailbox, Err: err}
			p.log.Error().
				Err(err).
				Str("stage", string(step.stage)).
				Str("mailbox", p.mailbox).
				Msg("poll cycle halted")
			c.report.End = StateHalted
			return p.finish(c), stageErr
		}

		state = Next(state, outcome)
	}

	c.report.End = state
	return p.finish(c), nil
}

// cycle carries one poll cycle's intermediate results between steps.
type cycle struct {
	mailboxes []string
	uids      []imap.UID
	messages  []transport.Message
	processed []imap.UID
	report    CycleReport
}

type step struct {
	stage Stage
	run   func(context.Context, *cycle) (Outcome, error)
}

func (p *Pipeline) stepFrom(s State) (step, bool) {
	switch s {
	case StateInit:
		return step{StageAuthenticate, p.authenticate}, true
	case StateAuthenticated:
		return step{StageList, p.listMailboxes}, true
	case StateMailboxesListed:
		return step{StageSelect, p.selectMailbox}, true
	case StateMailboxSelected:
		return step{StageSearch, p.search}, true
	case StateSearched:
		return step{StageFetch, p.fetch}, true
	case StateFetched:
		return step{StageProcess, p.process}, true
	case StateProcessed:
		return step{StageFlag, p.flag}, true
	default:
		return step{}, false
	}
}

func (p *Pipeline) finish(c *cycle) CycleReport {
	c.report.Mailbox = p.mailbox
	return c.report
}

func (p *Pipeline) authenticate(ctx context.Context, _ *cycle) (Outcome, error) {
	password, err := p.creds.Fetch(ctx)
	if err != nil {
		return Fail, fmt.Errorf("initializing session: %w", err)
	}

	p.log.Info().Str("username", p.cfg.Username).Msg("authenticating")
	if err := p.transport.Authenticate(ctx, p.cfg.Username, password); err != nil {
		return Fail, err
	}
	return Advance, nil
}

func (p *Pipeline) listMailboxes(ctx context.Context, c *cycle) (Outcome, error) {
	names, err := p.transport.ListMailboxes(ctx)
	if err != nil {
		return Fail, err
	}
	p.log.Debug().Strs("mailboxes", names).Msg("listed mailboxes")
	c.mailboxes = names
	return Advance, nil
}

func (p *Pipeline) selectMailbox(ctx context.Context, c *cycle) (Outcome, error) {
	chosen, ok := mailparse.MatchMailbox(c.mailboxes, p.cfg.Mailbox)
	if !ok {
		p.log.Error().
			Str("stage", string(StageSelect)).
			Str("target", p.cfg.Mailbox).
			Msg("no mailbox matches target")
	}
	p.mailbox = chosen

	rec, err := p.transport.Select(ctx, chosen)
	if err != nil {
		return Fail, err
	}

	summary := mailparse.ParseMailboxSummary(rec)
	c.report.Summary = &summary
	p.log.Info().
		Str("mailbox", chosen).
		Bool("read_only", summary.ReadOnly).
		Int("total", summary.TotalCount).
		Bool("has_unseen", summary.HasUnseen).
		Msg("selected mailbox")
	return Advance, nil
}

func (p *Pipeline) search(ctx context.Context, c *cycle) (Outcome, error) {
	uids, err := p.transport.SearchUnseen(ctx)
	if err != nil {
		return Fail, err
	}

	c.uids = uids
	c.report.Found = len(uids)
	if len(uids) == 0 {
		p.log.Info().Str("mailbox", p.mailbox).Msg("found no unseen mail")
		return Skip, nil
	}

	p.log.Info().
		Str("mailbox", p.mailbox).
		Int("count", len(uids)).
		Msg("found unseen mail")
	return Advance, nil
}

func (p *Pipeline) fetch(ctx context.Context, c *cycle) (Outcome, error) {
	messages, err := p.transport.FetchText(ctx, c.uids)
	if err != nil {
		return Fail, err
	}
	c.messages = messages
	return Advance, nil
}

func (p *Pipeline) process(ctx context.Context, c *cycle) (Outcome, error) {
	processed, downloads := p.saveAttachments(ctx, c.messages)

	c.processed = processed
	c.report.Downloads = downloads
	c.report.Skipped = len(c.messages) - len(processed)

	p.log.Info().
		Str("mailbox", p.mailbox).
		Int("saved", len(processed)).
		Int("skipped", c.report.Skipped).
		Msg("processed unseen mail")

	if len(processed) == 0 {
		return Skip, nil
	}
	return Advance, nil
}

func (p *Pipeline) flag(ctx context.Context, c *cycle) (Outcome, error) {
	if err := p.transport.MarkSeen(ctx, c.processed); err != nil {
		return Fail, err
	}
	c.report.Flagged = c.processed
	return Advance, nil
}

// saveAttachments decodes and stores every qualifying message and returns
// the UIDs that were saved. A message that fails at any point is left out
// so that it stays unseen and is retried next cycle.
func (p *Pipeline) saveAttachments(
	ctx context.Context, messages []transport.Message,
) ([]imap.UID, []store.Download) {
	var processed []imap.UID
	var downloads []store.Download

	for _, msg := range messages {
		log := p.log.With().
			Str("stage", string(StageProcess)).
			Str("mailbox", p.mailbox).
			Uint32("uid", uint32(msg.UID)).
			Logger()

		info := mailparse.ScanAttachment(msg.Text)
		if !mailparse.Qualifies(info, p.cfg.Marker) {
			log.Debug().
				Str("title", info.Title).
				Int("payload_start", info.PayloadStart).
				Msg("not a scanned document")
			continue
		}

		data, err := mailparse.Decode(mailparse.Payload(msg.Text, info), info.Encoding)
		if err != nil {
			log.Error().Err(err).Str("filename", info.Filename).Msg("decoding attachment")
			continue
		}

		path, err := p.files.Save(info.Filename, data)
		if err != nil {
			log.Error().Err(err).Str("filename", info.Filename).Msg("saving attachment")
			continue
		}

		d := store.Download{
			UID:      uint32(msg.UID),
			Mailbox:  p.mailbox,
			Title:    info.Title,
			Filename: info.Filename,
			Path:     path,
			Encoding: info.Encoding,
			Size:     int64(len(data)),
		}
		if p.journal != nil {
			recorded, err := p.journal.RecordDownload(ctx, d)
			if err != nil {
				log.Warn().Err(err).Msg("recording download")
			} else {
				d = recorded
			}
		}

		processed = append(processed, msg.UID)
		downloads = append(downloads, d)
		log.Info().Str("path", path).Int("bytes", len(data)).Msg("downloaded scan")
	}

	return processed, downloads
}

func isStage(err error, stage Stage) bool {
	var stageErr *StageError
	return errors.As(err, &stageErr) && stageErr.Stage == stage
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
