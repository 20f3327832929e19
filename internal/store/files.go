package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// ErrEmptyFilename is returned when an attachment has no usable name.
var ErrEmptyFilename = errors.New("attachment has no filename")

// Files writes attachments into a single directory.
type Files struct {
	Dir string
}

// NewFiles returns a sink for dir, creating the directory if needed.
func NewFiles(dir string) (*Files, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating local store %s: %w", dir, err)
	}
	return &Files{Dir: dir}, nil
}

// Save writes data to the directory under the attachment's name and
// returns the path written. An existing file of the same name is
// replaced.
func (f *Files) Save(name string, data []byte) (string, error) {
	base, err := AttachmentName(name)
	if err != nil {
		return "", err
	}

	path := filepath.Join(f.Dir, base)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

// AttachmentName decodes RFC 2047 encoded-words in a scanned filename
// and reduces it to a single path element.
func AttachmentName(raw string) (string, error) {
	name := strings.TrimSpace(raw)

	var h mail.Header
	h.Set("X-Attachment-Name", name)
	if decoded, err := h.Text("X-Attachment-Name"); err == nil {
		name = decoded
	}

	name = strings.ReplaceAll(name, `\`, "/")
	name = filepath.Base(filepath.Clean("/" + name))
	if name == "/" || name == "." || name == "" {
		return "", fmt.Errorf("%w: %q", ErrEmptyFilename, raw)
	}
	return name, nil
}
