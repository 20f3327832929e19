package mailparse

import "strings"

// StatusRecord is the status a server reports for a selected mailbox.
// Every field is optional; nil means the server did not report it.
type StatusRecord struct {
	ReadWrite *bool
	Exists    *uint32
	Unseen    *uint32
}

// MailboxSummary is the normalized view of a StatusRecord.
type MailboxSummary struct {
	ReadOnly   bool
	TotalCount int
	HasUnseen  bool
}

// ParseMailboxSummary translates a status record into a summary. Absent
// fields default to a read-only, empty mailbox with nothing unseen.
func ParseMailboxSummary(rec StatusRecord) MailboxSummary {
	summary := MailboxSummary{ReadOnly: true}
	if rec.ReadWrite != nil {
		summary.ReadOnly = !*rec.ReadWrite
	}
	if rec.Exists != nil {
		summary.TotalCount = int(*rec.Exists)
	}
	if rec.Unseen != nil {
		summary.HasUnseen = *rec.Unseen > 0
	}
	return summary
}

// MatchMailbox returns the first of names equal to target ignoring case.
// The name is returned as the server spelled it.
func MatchMailbox(names []string, target string) (string, bool) {
	for _, name := range names {
		if strings.EqualFold(name, target) {
			return name, true
		}
	}
	return "", false
}
