package xproc_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jacoelho/xproc"
	"github.com/jacoelho/xproc/internal/xmldoc"
	"github.com/jacoelho/xproc/internal/xmlnames"
)

const decl = "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n"

const identityPipeline = `<p:declare-step xmlns:p="http://www.w3.org/ns/xproc" version="1.0">
  <p:input port="source" primary="true"/>
  <p:input port="parameters" kind="parameter"/>
  <p:output port="result" primary="true"/>
  <p:identity/>
</p:declare-step>`

const twoOutputPipeline = `<p:declare-step xmlns:p="http://www.w3.org/ns/xproc" version="1.0">
  <p:input port="source"/>
  <p:output port="result" primary="true"/>
  <p:output port="report"/>
  <p:identity/>
</p:declare-step>`

func parseDoc(t *testing.T, s string) *xproc.Document {
	t.Helper()
	doc, err := xmldoc.Parse(strings.NewReader(s), "")
	require.NoError(t, err)
	return doc
}

func serialize(t *testing.T, doc *xproc.Document) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, xmldoc.Write(&buf, doc, xproc.Serialization{OmitXMLDeclaration: true}))
	return buf.String()
}

func results(t *testing.T, got map[string]*bytes.Buffer) map[string]string {
	t.Helper()
	out := make(map[string]string, len(got))
	for port, buf := range got {
		out[port] = buf.String()
	}
	return out
}

// xprocChildren lists the children of el in the pipeline namespace named local.
func xprocChildren(el *xmldoc.Element, local string) []*xmldoc.Element {
	return el.ElementsNamed(xmlnames.XProcNamespace, local)
}

func attr(el *xmldoc.Element, name string) string {
	v, _ := el.Attr("", name)
	return v
}

// trackedReader records whether it was closed.
type trackedReader struct {
	io.Reader
	closed atomic.Bool
}

func track(s string) *trackedReader {
	return &trackedReader{Reader: strings.NewReader(s)}
}

func (r *trackedReader) Close() error {
	r.closed.Store(true)
	return nil
}

// memStore keeps created documents in memory.
type memStore struct {
	docs map[string]*bytes.Buffer
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string]*bytes.Buffer)}
}

func (s *memStore) Create(_ context.Context, uri string) (io.WriteCloser, error) {
	buf := new(bytes.Buffer)
	s.docs[uri] = buf
	return nopWriteCloser{buf}, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
