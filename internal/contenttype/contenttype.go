package contenttype

import (
	"bufio"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Unknown is the placeholder some callers pass instead of an empty type.
const Unknown = "content/unknown"

const sniffLen = 3072

// NeedsDetection reports whether ct carries no usable media type.
func NeedsDetection(ct string) bool {
	ct = strings.TrimSpace(ct)
	return ct == "" || strings.EqualFold(ct, Unknown)
}

// Detect sniffs the media type of r, falling back to the extension of name.
// The returned reader replays the sniffed bytes.
func Detect(r io.Reader, name string) (string, io.Reader, error) {
	br := bufio.NewReaderSize(r, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return "", br, err
	}
	return fromBytes(head, name), br, nil
}

// FromBytes sniffs data, falling back to the extension of name.
func FromBytes(data []byte, name string) string {
	if len(data) > sniffLen {
		data = data[:sniffLen]
	}
	return fromBytes(data, name)
}

func fromBytes(head []byte, name string) string {
	sniffed := essence(mimetype.Detect(head).String())
	if sniffed != "" && sniffed != "application/octet-stream" && sniffed != "text/plain" {
		return sniffed
	}
	if byExt := FromName(name); byExt != "" {
		return byExt
	}
	return sniffed
}

// FromName guesses a media type from the extension of a file name or URI.
func FromName(name string) string {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	ext := path.Ext(name)
	if ext == "" {
		return ""
	}
	return essence(mime.TypeByExtension(ext))
}

func essence(ct string) string {
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return mt
}
