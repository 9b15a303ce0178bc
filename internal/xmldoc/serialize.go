package xmldoc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/unicode/norm"

	"github.com/jacoelho/xproc/internal/xmlnames"
)

// Write serializes doc to w according to s.
func Write(w io.Writer, doc *Document, s Serialization) (err error) {
	if doc == nil || doc.Root == nil {
		return fmt.Errorf("write document: no root element")
	}
	out, closeOut, err := encodedWriter(w, s)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := closeOut(); closeErr != nil && err == nil {
			err = fmt.Errorf("write document: %w", closeErr)
		}
	}()

	bw := bufio.NewWriter(out)
	if s.ByteOrderMark {
		bw.WriteString("\uFEFF")
	}
	switch strings.ToLower(s.Method) {
	case "text":
		bw.WriteString(doc.Root.TextContent())
	default:
		sw := &serializer{w: bw, indent: s.Indent}
		if isHTML(s.Method) {
			sw.escapeURIs = s.EscapeURIAttrs
			if s.IncludeContentType {
				sw.contentType = contentTypeMeta(s)
			}
		}
		if !omitDeclaration(s) {
			sw.declaration(s)
		}
		for _, n := range doc.Prolog {
			sw.node(n, 0, nil)
			sw.newline()
		}
		if s.DoctypeSystem != "" {
			sw.doctype(doc.Root, s)
		}
		sw.element(doc.Root, 0, nil)
		if sw.err != nil {
			return sw.err
		}
	}
	return bw.Flush()
}

func isHTML(method string) bool {
	return strings.EqualFold(method, "html") || strings.EqualFold(method, "xhtml")
}

func contentTypeMeta(s Serialization) string {
	mediaType := s.MediaType
	if mediaType == "" {
		mediaType = "text/html"
	}
	charset := s.Encoding
	if charset == "" {
		charset = "UTF-8"
	}
	return mediaType + "; charset=" + charset
}

func omitDeclaration(s Serialization) bool {
	if s.OmitXMLDeclaration {
		return true
	}
	return strings.EqualFold(s.Method, "html")
}

// encodedWriter chains normalization and character encoding in front of w.
func encodedWriter(w io.Writer, s Serialization) (io.Writer, func() error, error) {
	var closers []io.Closer
	out := w

	name := strings.TrimSpace(s.Encoding)
	if name != "" && !strings.EqualFold(name, "utf-8") && !strings.EqualFold(name, "utf8") {
		enc, err := htmlindex.Get(name)
		if err != nil {
			return nil, nil, fmt.Errorf("unsupported encoding %q: %w", name, err)
		}
		ew := encoding.HTMLEscapeUnsupported(enc.NewEncoder()).Writer(out)
		if c, ok := ew.(io.Closer); ok {
			closers = append(closers, c)
		}
		out = ew
	}

	switch strings.ToUpper(strings.TrimSpace(s.NormalizationForm)) {
	case "", "NONE":
	case "NFC":
		nw := norm.NFC.Writer(out)
		closers = append(closers, nw)
		out = nw
	case "NFD":
		nw := norm.NFD.Writer(out)
		closers = append(closers, nw)
		out = nw
	case "NFKC":
		nw := norm.NFKC.Writer(out)
		closers = append(closers, nw)
		out = nw
	case "NFKD":
		nw := norm.NFKD.Writer(out)
		closers = append(closers, nw)
		out = nw
	default:
		return nil, nil, fmt.Errorf("unsupported normalization form %q", s.NormalizationForm)
	}

	return out, func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}, nil
}

type scope struct {
	parent   *scope
	prefixes map[string]string
}

func (s *scope) lookup(prefix string) (string, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if ns, ok := cur.prefixes[prefix]; ok {
			return ns, true
		}
	}
	if prefix == xmlnames.XMLPrefix {
		return xmlnames.XMLNamespace, true
	}
	return "", prefix == ""
}

type serializer struct {
	w      *bufio.Writer
	err    error
	indent bool
	// contentType, when set, is written as a meta element at the start of head.
	contentType string
	escapeURIs  bool
}

func (sw *serializer) write(s string) {
	if sw.err != nil {
		return
	}
	_, sw.err = sw.w.WriteString(s)
}

func (sw *serializer) newline() {
	if sw.indent {
		sw.write("\n")
	}
}

func (sw *serializer) declaration(s Serialization) {
	version := s.Version
	if version == "" {
		version = "1.0"
	}
	enc := s.Encoding
	if enc == "" {
		enc = "UTF-8"
	}
	sw.write(`<?xml version="` + escapeAttr(version) + `" encoding="` + escapeAttr(enc) + `"`)
	switch s.Standalone {
	case "yes", "true":
		sw.write(` standalone="yes"`)
	case "no", "false":
		sw.write(` standalone="no"`)
	}
	sw.write("?>\n")
}

func (sw *serializer) doctype(root *Element, s Serialization) {
	sw.write("<!DOCTYPE " + root.Name.String())
	if s.DoctypePublic != "" {
		sw.write(` PUBLIC "` + s.DoctypePublic + `" "` + s.DoctypeSystem + `"`)
	} else {
		sw.write(` SYSTEM "` + s.DoctypeSystem + `"`)
	}
	sw.write(">\n")
}

func (sw *serializer) node(n Node, depth int, sc *scope) {
	switch v := n.(type) {
	case *Element:
		sw.element(v, depth, sc)
	case Text:
		sw.write(escapeText(string(v)))
	case Comment:
		sw.write("<!--" + string(v) + "-->")
	case ProcInst:
		if v.Data == "" {
			sw.write("<?" + v.Target + "?>")
		} else {
			sw.write("<?" + v.Target + " " + v.Data + "?>")
		}
	}
}

func (sw *serializer) element(e *Element, depth int, parent *scope) {
	sc := &scope{parent: parent, prefixes: map[string]string{}}
	var decls []Namespace
	declare := func(prefix, uri string) {
		sc.prefixes[prefix] = uri
		decls = append(decls, Namespace{Prefix: prefix, URI: uri})
	}

	for _, ns := range e.Namespaces {
		if ns.Prefix == xmlnames.XMLPrefix {
			continue
		}
		if cur, ok := parent.lookup(ns.Prefix); ok && cur == ns.URI {
			continue
		}
		declare(ns.Prefix, ns.URI)
	}

	name := e.Name
	if cur, ok := sc.lookup(name.Prefix); !ok || cur != name.Namespace {
		if _, own := sc.prefixes[name.Prefix]; own && name.Prefix != "" {
			name.Prefix = sc.freshPrefix()
		}
		if name.Prefix != xmlnames.XMLPrefix {
			declare(name.Prefix, name.Namespace)
		}
	}

	attrs := make([]Attr, len(e.Attrs))
	copy(attrs, e.Attrs)
	for i := range attrs {
		an := attrs[i].Name
		if an.Namespace == "" {
			an.Prefix = ""
			attrs[i].Name = an
			continue
		}
		if an.Prefix == "" {
			an.Prefix = sc.prefixFor(an.Namespace)
		}
		if cur, ok := sc.lookup(an.Prefix); !ok || cur != an.Namespace {
			if _, own := sc.prefixes[an.Prefix]; own {
				an.Prefix = sc.freshPrefix()
			}
			declare(an.Prefix, an.Namespace)
		}
		attrs[i].Name = an
	}

	sw.write("<" + name.String())
	for _, ns := range decls {
		if ns.Prefix == "" {
			sw.write(` xmlns="` + escapeAttr(ns.URI) + `"`)
		} else {
			sw.write(` xmlns:` + ns.Prefix + `="` + escapeAttr(ns.URI) + `"`)
		}
	}
	for _, a := range attrs {
		value := a.Value
		if sw.escapeURIs && a.Name.Namespace == "" && uriAttrs[strings.ToLower(a.Name.Local)] {
			value = escapeURI(value)
		}
		sw.write(" " + a.Name.String() + `="` + escapeAttr(value) + `"`)
	}
	meta := sw.contentType != "" && strings.EqualFold(e.Name.Local, "head")
	if len(e.Children) == 0 && !meta {
		sw.write("/>")
		return
	}
	sw.write(">")

	pretty := sw.indent && elementOnly(e)
	if meta {
		if pretty {
			sw.write("\n" + strings.Repeat("  ", depth+1))
		}
		sw.write(`<meta http-equiv="Content-Type" content="` + escapeAttr(sw.contentType) + `"/>`)
	}
	for _, child := range e.Children {
		if pretty {
			if _, ok := child.(Text); ok {
				continue
			}
			sw.write("\n" + strings.Repeat("  ", depth+1))
		}
		sw.node(child, depth+1, sc)
	}
	if pretty {
		sw.write("\n" + strings.Repeat("  ", depth))
	}
	sw.write("</" + name.String() + ">")
}

func (sc *scope) prefixFor(namespace string) string {
	for cur := sc; cur != nil; cur = cur.parent {
		for prefix, ns := range cur.prefixes {
			if ns == namespace && prefix != "" {
				return prefix
			}
		}
	}
	if namespace == xmlnames.XMLNamespace {
		return xmlnames.XMLPrefix
	}
	return sc.freshPrefix()
}

func (sc *scope) freshPrefix() string {
	for i := 1; ; i++ {
		p := "ns" + strconv.Itoa(i)
		if _, ok := sc.lookup(p); !ok {
			return p
		}
	}
}

var uriAttrs = map[string]bool{
	"action": true, "background": true, "cite": true, "codebase": true,
	"data": true, "href": true, "longdesc": true, "src": true, "usemap": true,
}

// escapeURI percent-encodes the non-ASCII bytes of a URI attribute value.
func escapeURI(v string) string {
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c < 0x80 {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func elementOnly(e *Element) bool {
	for _, child := range e.Children {
		if t, ok := child.(Text); ok && strings.TrimSpace(string(t)) != "" {
			return false
		}
	}
	return true
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\r", "&#xD;")
	attrEscaper = strings.NewReplacer(
		"&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;",
		"\t", "&#x9;", "\n", "&#xA;", "\r", "&#xD;",
	)
)

func escapeText(s string) string {
	return textEscaper.Replace(s)
}

func escapeAttr(s string) string {
	return attrEscaper.Replace(s)
}
