package xproc

import (
	"io"
)

// InputKind selects where an input's content comes from.
type InputKind int

const (
	// InputURI reads the content from a URI reference.
	InputURI InputKind = iota
	// InputStream reads the content from a caller-supplied stream.
	InputStream
)

func (k InputKind) String() string {
	switch k {
	case InputURI:
		return "uri"
	case InputStream:
		return "stream"
	default:
		return "unknown"
	}
}

// PayloadKind selects how input content is interpreted.
type PayloadKind int

const (
	// PayloadXML content is parsed as an XML document.
	PayloadXML PayloadKind = iota
	// PayloadData content is wrapped in a c:data document.
	PayloadData
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadXML:
		return "xml"
	case PayloadData:
		return "data"
	default:
		return "unknown"
	}
}

// EmptyURI is the literal that binds a port to an empty sequence.
const EmptyURI = "p:empty"

// StdioURI is the literal for standard input or output.
const StdioURI = "-"

// Input describes one document supplied to a port, a pipeline source or a
// library. A stream input owns its reader until it is taken or closed.
type Input struct {
	Kind        InputKind
	Payload     PayloadKind
	ContentType string
	// URI is the reference for InputURI and the system id for InputStream.
	URI string

	stream io.ReadCloser
	stdin  bool
}

// NewURIInput describes content at uri.
func NewURIInput(uri string, payload PayloadKind, contentType string) *Input {
	return &Input{Kind: InputURI, Payload: payload, ContentType: contentType, URI: uri}
}

// NewStreamInput describes content read from r. systemID is used as the
// base URI of the parsed document.
func NewStreamInput(r io.Reader, systemID string, payload PayloadKind, contentType string) *Input {
	return &Input{Kind: InputStream, Payload: payload, ContentType: contentType, URI: systemID, stream: asReadCloser(r)}
}

// NewStdinInput describes the process standard input. Implicit pipelines
// reference it as "-" instead of copying it to a temporary file.
func NewStdinInput(r io.Reader, payload PayloadKind, contentType string) *Input {
	in := NewStreamInput(r, StdioURI, payload, contentType)
	in.stdin = true
	return in
}

// IsStdin reports whether the input stands for standard input.
func (in *Input) IsStdin() bool {
	return in != nil && in.stdin
}

// Take transfers ownership of the stream to the caller. It returns nil for
// URI inputs and once the stream has been taken or closed.
func (in *Input) Take() io.ReadCloser {
	if in == nil {
		return nil
	}
	r := in.stream
	in.stream = nil
	return r
}

// Close closes a stream that has not been taken. It is safe to call more than once.
func (in *Input) Close() error {
	if r := in.Take(); r != nil {
		return r.Close()
	}
	return nil
}

// OutputKind selects where a port's documents are written.
type OutputKind int

const (
	// OutputDefault collects documents in the buffer returned by Invoke.
	OutputDefault OutputKind = iota
	// OutputURI writes documents to a URI through the document store.
	OutputURI
	// OutputSink writes documents to a caller-owned writer.
	OutputSink
	// OutputDiscard drains the port and drops its documents.
	OutputDiscard
)

func (k OutputKind) String() string {
	switch k {
	case OutputDefault:
		return "default"
	case OutputURI:
		return "uri"
	case OutputSink:
		return "sink"
	case OutputDiscard:
		return "discard"
	default:
		return "unknown"
	}
}

// Output describes the destination of one output port.
type Output struct {
	Kind OutputKind
	URI  string
	Sink io.Writer
}

// normalized maps the "-" URI to the default destination.
func (o Output) normalized() Output {
	if o.Kind == OutputURI && o.URI == StdioURI {
		return Output{Kind: OutputDefault}
	}
	return o
}

func asReadCloser(r io.Reader) io.ReadCloser {
	if r == nil {
		return nil
	}
	if rc, ok := r.(io.ReadCloser); ok {
		return rc
	}
	return io.NopCloser(r)
}
