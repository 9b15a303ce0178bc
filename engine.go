package xproc

import (
	"context"
	"io"

	"github.com/jacoelho/xproc/internal/qname"
	"github.com/jacoelho/xproc/internal/xmldoc"
)

// QName is a namespace-qualified name.
type QName = qname.QName

// Document is an XML document exchanged with the engine.
type Document = xmldoc.Document

// Serialization controls how documents written to an output are encoded.
type Serialization = xmldoc.Serialization

// Settings configure a runtime created by an Engine.
type Settings struct {
	Flags
	// StaticBaseURI is the base for relative references inside pipelines.
	StaticBaseURI string
	// Resolver dereferences the URIs the runtime encounters.
	Resolver ResourceResolver
}

// Engine creates runtimes that load and run pipelines.
type Engine interface {
	NewRuntime(ctx context.Context, settings Settings) (Runtime, error)
}

// Runtime loads pipelines for one invocation.
type Runtime interface {
	// Load compiles a literal pipeline.
	Load(ctx context.Context, in *Input) (Pipeline, error)
	// Use compiles a pipeline from an in-memory document.
	Use(ctx context.Context, doc *Document) (Pipeline, error)
	// LoadLibrary compiles a pipeline library.
	LoadLibrary(ctx context.Context, in *Input) (Library, error)
	Close() error
}

// Library is a compiled pipeline library.
type Library interface {
	// FirstPipelineType returns the type of the first pipeline the library declares.
	FirstPipelineType() (QName, bool)
}

// Pipeline is a compiled pipeline ready to receive inputs and run.
type Pipeline interface {
	Ports() DeclaredPorts
	ClearInputs(port string)
	WriteTo(port string, doc *Document) error
	// HasReadablePipes reports whether port already has a declared default binding.
	HasReadablePipes(port string) bool
	// SetParameter sets a parameter on port; WildcardPort applies it to every parameter input.
	SetParameter(port string, name QName, value string)
	PassOption(name QName, value string)
	Run(ctx context.Context) error
	ReadFrom(port string) (ReadablePipe, error)
	// Serialization returns the serialization the pipeline declares for port, or nil.
	Serialization(port string) *Serialization
}

// ReadablePipe yields documents in order and returns io.EOF when drained.
type ReadablePipe interface {
	Read(ctx context.Context) (*Document, error)
}

// DocumentCodec parses and serializes documents.
type DocumentCodec interface {
	Parse(ctx context.Context, r io.Reader, systemID string) (*Document, error)
	// ParseData wraps non-XML content in a c:data document.
	ParseData(ctx context.Context, r io.Reader, systemID, contentType string) (*Document, error)
	Write(w io.Writer, doc *Document, s Serialization) error
}

// ResourceResolver dereferences href relative to base and returns the
// content with its absolute system id.
type ResourceResolver interface {
	Resolve(ctx context.Context, href, base string) (io.ReadCloser, string, error)
}

// DocumentStore creates writable documents for output URIs.
type DocumentStore interface {
	Create(ctx context.Context, uri string) (io.WriteCloser, error)
}

// InputPort is an input port declared by a pipeline.
type InputPort struct {
	Name      string
	Primary   bool
	Parameter bool
	Sequence  bool
}

// OutputPort is an output port declared by a pipeline.
type OutputPort struct {
	Name     string
	Primary  bool
	Sequence bool
}

// DeclaredPorts are a pipeline's ports in declaration order.
type DeclaredPorts struct {
	Inputs  []InputPort
	Outputs []OutputPort
}

// Input returns the declared input port named name.
func (d DeclaredPorts) Input(name string) (InputPort, bool) {
	for _, p := range d.Inputs {
		if p.Name == name {
			return p, true
		}
	}
	return InputPort{}, false
}

// Output returns the declared output port named name.
func (d DeclaredPorts) Output(name string) (OutputPort, bool) {
	for _, p := range d.Outputs {
		if p.Name == name {
			return p, true
		}
	}
	return OutputPort{}, false
}

// InputBinding is the resolved source of one input port.
type InputBinding struct {
	Port string
	// Request holds inputs from the invocation request; it wins over Config.
	Request []*Input
	Config  []ReadablePipe
	// Default marks the port that receives the invocation's default input.
	Default bool
}

// OutputBinding is the resolved destination of one output port.
type OutputBinding struct {
	Port   string
	Output Output
}

// BindingTable is the resolved port wiring of one invocation, in declared port order.
type BindingTable struct {
	Inputs  []InputBinding
	Outputs []OutputBinding
}
