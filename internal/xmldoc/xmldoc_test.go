package xmldoc

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/jacoelho/xproc/internal/qname"
	"github.com/jacoelho/xproc/internal/xmlnames"
)

func TestParse(t *testing.T) {
	xmlData := `<?xml version="1.0"?>
<!-- lead -->
<root xmlns="http://example.com" xmlns:x="urn:x">
	<child attr="value" x:id="1">text content</child>
	<x:child2>more text</x:child2>
</root>`

	doc, err := Parse(strings.NewReader(xmlData), "file:///doc.xml")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if doc.BaseURI != "file:///doc.xml" {
		t.Errorf("BaseURI = %q, want file:///doc.xml", doc.BaseURI)
	}
	if len(doc.Prolog) != 1 {
		t.Fatalf("Prolog has %d nodes, want 1", len(doc.Prolog))
	}
	if doc.Root.Name.Namespace != "http://example.com" || doc.Root.Name.Local != "root" {
		t.Errorf("root name = %s, want {http://example.com}root", doc.Root.Name.Clark())
	}

	children := doc.Root.Elements()
	if len(children) != 2 {
		t.Fatalf("root has %d element children, want 2", len(children))
	}
	child := children[0]
	if got, ok := child.Attr("", "attr"); !ok || got != "value" {
		t.Errorf("Attr(attr) = %q, %v, want value", got, ok)
	}
	if got, ok := child.Attr("urn:x", "id"); !ok || got != "1" {
		t.Errorf("Attr({urn:x}id) = %q, %v, want 1", got, ok)
	}
	if got := child.TextContent(); got != "text content" {
		t.Errorf("TextContent() = %q, want %q", got, "text content")
	}
	if got := doc.Root.ElementsNamed("urn:x", "child2"); len(got) != 1 || got[0].Name.Prefix != "x" {
		t.Errorf("ElementsNamed(urn:x, child2) = %v, want one x:child2", got)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		xml  string
	}{
		{name: "empty", xml: ""},
		{name: "unclosed", xml: "<a><b></b>"},
		{name: "mismatched", xml: "<a></b>"},
		{name: "unbound prefix", xml: "<x:a/>"},
		{name: "second root", xml: "<a/><b/>"},
		{name: "text outside root", xml: "<a/>junk"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(tt.xml), ""); err == nil {
				t.Fatalf("Parse(%q) expected error", tt.xml)
			}
		})
	}
}

func TestWriteRoundTrip(t *testing.T) {
	input := `<root xmlns="http://example.com"><child a="1 &amp; 2">x &lt; y</child><?pi data?><!--c--></root>`
	doc, err := Parse(strings.NewReader(input), "")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	var buf bytes.Buffer
	if err := Write(&buf, doc, Serialization{OmitXMLDeclaration: true}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := buf.String(); got != input {
		t.Errorf("Write() = %q, want %q", got, input)
	}
}

func TestWriteDeclaration(t *testing.T) {
	doc := mustBuild(t, NewBuilder("").Start(qname.Local("r")).End())
	var buf bytes.Buffer
	if err := Write(&buf, doc, Serialization{Standalone: "yes"}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	want := "<?xml version=\"1.0\" encoding=\"UTF-8\" standalone=\"yes\"?>\n<r/>"
	if got := buf.String(); got != want {
		t.Errorf("Write() = %q, want %q", got, want)
	}
}

func TestWriteIndent(t *testing.T) {
	doc := mustBuild(t, NewBuilder("").
		Start(qname.Local("a")).
		Start(qname.Local("b")).End().
		Start(qname.Local("c")).Text("x").End().
		End())
	var buf bytes.Buffer
	if err := Write(&buf, doc, Serialization{Indent: true, OmitXMLDeclaration: true}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	want := "<a>\n  <b/>\n  <c>x</c>\n</a>"
	if got := buf.String(); got != want {
		t.Errorf("Write() = %q, want %q", got, want)
	}
}

func TestWriteDeclaresMissingPrefixes(t *testing.T) {
	doc := mustBuild(t, NewBuilder("").
		Start(qname.New("p", xmlnames.XProcNamespace, "pipeline")).
		Attr(qname.New("", "urn:x", "id"), "1").
		Start(qname.New("p", xmlnames.XProcNamespace, "empty")).End().
		End())
	var buf bytes.Buffer
	if err := Write(&buf, doc, Serialization{OmitXMLDeclaration: true}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	want := `<p:pipeline xmlns:p="http://www.w3.org/ns/xproc" xmlns:ns1="urn:x" ns1:id="1"><p:empty/></p:pipeline>`
	if got := buf.String(); got != want {
		t.Errorf("Write() = %q, want %q", got, want)
	}
}

func TestWriteTextMethod(t *testing.T) {
	doc, err := Parse(strings.NewReader("<r>a<b>c</b></r>"), "")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	var buf bytes.Buffer
	if err := Write(&buf, doc, Serialization{Method: "text"}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := buf.String(); got != "ac" {
		t.Errorf("Write() = %q, want %q", got, "ac")
	}
}

func TestWriteEncoding(t *testing.T) {
	doc := mustBuild(t, NewBuilder("").Start(qname.Local("r")).Text("caf\u00e9 \u2603").End())
	var buf bytes.Buffer
	if err := Write(&buf, doc, Serialization{Encoding: "ISO-8859-1"}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	want := "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>\n<r>caf\xe9 &#9731;</r>"
	if got := buf.String(); got != want {
		t.Errorf("Write() = %q, want %q", got, want)
	}

	if err := Write(&buf, doc, Serialization{Encoding: "no-such-charset"}); err == nil {
		t.Error("Write() with unknown encoding expected error")
	}
}

func TestWriteNormalization(t *testing.T) {
	doc := mustBuild(t, NewBuilder("").Start(qname.Local("r")).Text("e\u0301").End())
	var buf bytes.Buffer
	if err := Write(&buf, doc, Serialization{NormalizationForm: "NFC", OmitXMLDeclaration: true}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := buf.String(); got != "<r>\u00e9</r>" {
		t.Errorf("Write() = %q, want composed form", got)
	}
	if err := Write(&buf, doc, Serialization{NormalizationForm: "fully-normalized"}); err == nil {
		t.Error("Write() with unknown normalization form expected error")
	}
}

func TestSerializationFromOptions(t *testing.T) {
	s := SerializationFromOptions(map[string]string{
		"indent":               "true",
		"omit-xml-declaration": "yes",
		"method":               "text",
		"encoding":             "UTF-16",
		"bogus":                "true",
	})
	if !s.Indent {
		t.Error("Indent = false, want true")
	}
	if s.OmitXMLDeclaration {
		t.Error("OmitXMLDeclaration = true for \"yes\", want false")
	}
	if s.Method != "text" || s.Encoding != "UTF-16" {
		t.Errorf("Method, Encoding = %q, %q", s.Method, s.Encoding)
	}
}

func TestCodecParseData(t *testing.T) {
	var c Codec
	doc, err := c.ParseData(context.Background(), strings.NewReader("hello"), "file:///a.txt", "text/plain")
	if err != nil {
		t.Fatalf("ParseData() error = %v", err)
	}
	if !doc.Root.Name.Equal(DataName) {
		t.Fatalf("root = %s, want c:data", doc.Root.Name.Clark())
	}
	if got := doc.Root.TextContent(); got != "hello" {
		t.Errorf("TextContent() = %q, want hello", got)
	}
	if _, ok := doc.Root.Attr("", "encoding"); ok {
		t.Error("text data should not be base64 encoded")
	}

	doc, err = c.ParseData(context.Background(), bytes.NewReader([]byte{0x89, 'P', 'N', 'G'}), "", "image/png")
	if err != nil {
		t.Fatalf("ParseData() error = %v", err)
	}
	if enc, _ := doc.Root.Attr("", "encoding"); enc != "base64" {
		t.Errorf("encoding = %q, want base64", enc)
	}
	if got := doc.Root.TextContent(); got != "iVBORw==" {
		t.Errorf("TextContent() = %q, want iVBORw==", got)
	}
	if ct, _ := doc.Root.Attr("", "content-type"); ct != "image/png" {
		t.Errorf("content-type = %q, want image/png", ct)
	}
}

func TestBuilderErrors(t *testing.T) {
	if _, err := NewBuilder("").Document(); err == nil {
		t.Error("Document() without root expected error")
	}
	if _, err := NewBuilder("").Start(qname.Local("a")).Document(); err == nil {
		t.Error("Document() with unclosed element expected error")
	}
	if _, err := NewBuilder("").Start(qname.Local("a")).End().Start(qname.Local("b")).End().Document(); err == nil {
		t.Error("Document() with two roots expected error")
	}
	if _, err := NewBuilder("").Text("x").Document(); err == nil {
		t.Error("Text() outside element expected error")
	}
}

func mustBuild(t *testing.T, b *Builder) *Document {
	t.Helper()
	doc, err := b.Document()
	if err != nil {
		t.Fatalf("Document() error = %v", err)
	}
	return doc
}

func TestWriteHTMLContentTypeAndURIs(t *testing.T) {
	input := `<html><head><title>t</title></head><body><a href="/café" title="café">x</a></body></html>`
	doc, err := Parse(strings.NewReader(input), "")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	html := Serialization{Method: "html", IncludeContentType: true, EscapeURIAttrs: true, MediaType: "text/html"}

	var buf bytes.Buffer
	if err := Write(&buf, doc, html); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	want := `<html><head><meta http-equiv="Content-Type" content="text/html; charset=UTF-8"/><title>t</title></head>` +
		`<body><a href="/caf%C3%A9" title="café">x</a></body></html>`
	if got := buf.String(); got != want {
		t.Errorf("Write(html) = %q, want %q", got, want)
	}

	buf.Reset()
	plain := html
	plain.Method = "xml"
	plain.OmitXMLDeclaration = true
	if err := Write(&buf, doc, plain); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := buf.String(); got != input {
		t.Errorf("Write(xml) = %q, want %q", got, input)
	}
}

func TestWriteContentTypeIntoEmptyHead(t *testing.T) {
	doc := mustBuild(t, NewBuilder("").Start(qname.Local("html")).Start(qname.Local("head")).End().End())
	var buf bytes.Buffer
	if err := Write(&buf, doc, Serialization{Method: "xhtml", IncludeContentType: true, Encoding: "ISO-8859-1", OmitXMLDeclaration: true}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	want := `<html><head><meta http-equiv="Content-Type" content="text/html; charset=ISO-8859-1"/></head></html>`
	if got := buf.String(); got != want {
		t.Errorf("Write() = %q, want %q", got, want)
	}
}
