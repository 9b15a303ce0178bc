package xmldoc

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/jacoelho/xproc/internal/qname"
	"github.com/jacoelho/xproc/internal/xmlnames"
)

// Codec is the default document codec.
type Codec struct{}

// Parse reads an XML document.
func (Codec) Parse(ctx context.Context, r io.Reader, systemID string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := Parse(r, systemID)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", systemID, err)
	}
	return doc, nil
}

// ParseData wraps arbitrary content in a c:data element.
func (Codec) ParseData(ctx context.Context, r io.Reader, systemID, contentType string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", systemID, err)
	}
	return DataDocument(data, systemID, contentType), nil
}

// Write serializes doc.
func (Codec) Write(w io.Writer, doc *Document, s Serialization) error {
	return Write(w, doc, s)
}

// DataName is the element that carries non-XML content.
var DataName = qname.New(xmlnames.StepPrefix, xmlnames.StepNamespace, "data")

// DataDocument builds a c:data document. Textual content is kept as text,
// anything else is base64 encoded.
func DataDocument(data []byte, systemID, contentType string) *Document {
	root := NewElement(DataName)
	root.Namespaces = []Namespace{{Prefix: xmlnames.StepPrefix, URI: xmlnames.StepNamespace}}
	if contentType != "" {
		root.SetAttr(qname.Local("content-type"), contentType)
	}
	if IsTextual(contentType) && utf8.Valid(data) {
		if len(data) > 0 {
			root.Append(Text(data))
		}
	} else {
		root.SetAttr(qname.Local("encoding"), "base64")
		root.Append(Text(base64.StdEncoding.EncodeToString(data)))
	}
	return &Document{Root: root, BaseURI: systemID}
}

// IsTextual reports whether a media type carries character data.
func IsTextual(contentType string) bool {
	mt := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch {
	case mt == "":
		return false
	case strings.HasPrefix(mt, "text/"):
		return true
	case strings.HasSuffix(mt, "+xml"), strings.HasSuffix(mt, "+json"):
		return true
	}
	switch mt {
	case "application/xml", "application/json", "application/javascript", "application/xquery":
		return true
	}
	return false
}
