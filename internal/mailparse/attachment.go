package mailparse

import (
	"bytes"
	"iter"
	"regexp"
	"strings"
)

// AttachmentInfo holds the fields scanned from the header block of an
// attachment carried in a message's TEXT section.
type AttachmentInfo struct {
	Title    string
	Filename string
	Encoding string

	// PayloadStart is the byte offset into the scanned buffer where the
	// encoded payload begins, or -1 when no blank line ends the header
	// block.
	PayloadStart int
}

// HasPayload reports whether the scan found a payload boundary.
func (a AttachmentInfo) HasPayload() bool {
	return a.PayloadStart >= 0
}

var (
	titlePattern    = regexp.MustCompile(`^-+\s*(.*)$`)
	filenamePattern = regexp.MustCompile(`^\s*filename="(.*)"$`)
	encodingPattern = regexp.MustCompile(`^Content-Transfer-Encoding:\s+(.*)$`)
)

// isLineBreak reports whether b is one half of the two-byte line delimiter.
func isLineBreak(b byte) bool {
	return b == '\n' || b == '\r'
}

// Lines yields each line of buf together with the offset at which the
// following line starts, always two past the byte that ended the line.
// Any '\n' or '\r' ends a line and arms a swallow: the next delimiter
// byte is dropped instead of ending another line, however many other
// bytes come between. With the canonical "\n\r" pair this consumes the
// pair; "a\nb\nc" yields ("a", 3) then ("bc", -1). The last line yielded
// carries offset -1.
func Lines(buf []byte) iter.Seq2[string, int] {
	return func(yield func(string, int) bool) {
		var line strings.Builder
		swallow := false
		for i, b := range buf {
			if !isLineBreak(b) {
				line.WriteByte(b)
				continue
			}
			if swallow {
				swallow = false
				continue
			}
			if !yield(line.String(), i+2) {
				return
			}
			line.Reset()
			swallow = true
		}
		yield(line.String(), -1)
	}
}

// ScanAttachment extracts the attachment title, filename and transfer
// encoding from the header block at the top of buf, and records where the
// payload starts. Scanning stops at the first empty line; fields that
// appear after it are not considered.
func ScanAttachment(buf []byte) AttachmentInfo {
	info := AttachmentInfo{PayloadStart: -1}

	for line, next := range Lines(buf) {
		if line == "" || next < 0 {
			info.PayloadStart = next
			break
		}

		if m := titlePattern.FindStringSubmatch(line); m != nil {
			info.Title = m[1]
			continue
		}
		if m := filenamePattern.FindStringSubmatch(line); m != nil {
			info.Filename = m[1]
			continue
		}
		if m := encodingPattern.FindStringSubmatch(line); m != nil {
			info.Encoding = m[1]
			continue
		}
	}

	return info
}

// Payload returns the encoded payload of buf described by info, or nil
// if the scan found no payload boundary. A closing MIME delimiter line
// built from the title ("--<title>--") at the end of the payload is cut
// off.
func Payload(buf []byte, info AttachmentInfo) []byte {
	if !info.HasPayload() || info.PayloadStart > len(buf) {
		return nil
	}

	payload := buf[info.PayloadStart:]
	if info.Title == "" {
		return payload
	}

	trimmed := bytes.TrimRight(payload, "\r\n\t ")
	cut := bytes.LastIndexAny(trimmed, "\r\n") + 1
	last := string(trimmed[cut:])
	closing := strings.TrimLeft(last, "-")
	if len(last)-len(closing) >= 2 && closing == info.Title+"--" {
		return payload[:cut]
	}

	return payload
}

// Qualifies reports whether info describes a downloadable scan: the title
// is non-empty and contains marker, and a payload boundary was found. An
// empty marker accepts any non-empty title.
func Qualifies(info AttachmentInfo, marker string) bool {
	if info.Title == "" || !info.HasPayload() {
		return false
	}
	return strings.Contains(info.Title, marker)
}
