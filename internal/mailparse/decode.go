package mailparse

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/quotedprintable"
	"strings"
)

// ErrUnsupportedEncoding is returned by Decode for transfer encodings it
// does not know how to undo.
var ErrUnsupportedEncoding = errors.New("unsupported transfer encoding")

// Decode undoes the transfer encoding of an attachment payload. Base64
// payloads (including those with no declared encoding) are decoded with
// the URL-safe alphabet; standard-alphabet characters, line breaks and
// missing padding are tolerated.
func Decode(payload []byte, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "base64":
		return decodeBase64(payload)
	case "quoted-printable":
		out, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(payload)))
		if err != nil {
			return nil, fmt.Errorf("decoding quoted-printable payload: %w", err)
		}
		return out, nil
	case "7bit", "8bit", "binary":
		return payload, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, encoding)
	}
}

func decodeBase64(payload []byte) ([]byte, error) {
	clean := make([]byte, 0, len(payload))
	for _, b := range payload {
		switch b {
		case '\r', '\n', '\t', ' ':
		case '+':
			clean = append(clean, '-')
		case '/':
			clean = append(clean, '_')
		default:
			clean = append(clean, b)
		}
	}
	clean = bytes.TrimRight(clean, "=")

	out := make([]byte, base64.RawURLEncoding.DecodedLen(len(clean)))
	n, err := base64.RawURLEncoding.Decode(out, clean)
	if err != nil {
		return nil, fmt.Errorf("decoding base64 payload: %w", err)
	}
	return out[:n], nil
}
