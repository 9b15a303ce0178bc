// Package enginetest provides an in-memory engine that reads port
// declarations from pipeline documents and records what it is given.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/jacoelho/xproc"
	"github.com/jacoelho/xproc/internal/qname"
	"github.com/jacoelho/xproc/internal/xmldoc"
	"github.com/jacoelho/xproc/internal/xmlnames"
)

// RunFunc replaces the default run. The default copies the documents of the
// primary input to every output port.
type RunFunc func(ctx context.Context, p *Pipeline) error

// Engine creates recording runtimes.
type Engine struct {
	// Run, when set, runs every pipeline instead of the identity copy.
	Run RunFunc
	// FailNewRuntime, FailLoad and FailRun are returned by the matching calls.
	FailNewRuntime error
	FailLoad       error
	FailRun        error
	// FailRead maps output ports to errors returned while draining them.
	FailRead map[string]error
	// OnRead is called before each document read from an output port.
	OnRead func(port string)

	mu       sync.Mutex
	runtimes []*Runtime
}

// New returns an engine with identity runs.
func New() *Engine {
	return &Engine{}
}

// NewRuntime implements xproc.Engine.
func (e *Engine) NewRuntime(_ context.Context, settings xproc.Settings) (xproc.Runtime, error) {
	if e.FailNewRuntime != nil {
		return nil, e.FailNewRuntime
	}
	rt := &Runtime{engine: e, Settings: settings}
	e.mu.Lock()
	e.runtimes = append(e.runtimes, rt)
	e.mu.Unlock()
	return rt, nil
}

// Runtimes returns every runtime created so far.
func (e *Engine) Runtimes() []*Runtime {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.runtimes)
}

// LastRuntime returns the most recent runtime, or nil.
func (e *Engine) LastRuntime() *Runtime {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.runtimes) == 0 {
		return nil
	}
	return e.runtimes[len(e.runtimes)-1]
}

// LastPipeline returns the most recently compiled pipeline, or nil.
func (e *Engine) LastPipeline() *Pipeline {
	rt := e.LastRuntime()
	if rt == nil || len(rt.Pipelines) == 0 {
		return nil
	}
	return rt.Pipelines[len(rt.Pipelines)-1]
}

// Runtime records the pipelines and libraries it compiles.
type Runtime struct {
	engine *Engine

	Settings  xproc.Settings
	Pipelines []*Pipeline
	// Used holds the documents passed to Use, such as implicit pipelines.
	Used      []*xproc.Document
	Libraries []*Library
	Closed    bool
}

// Load implements xproc.Runtime.
func (rt *Runtime) Load(ctx context.Context, in *xproc.Input) (xproc.Pipeline, error) {
	if rt.engine.FailLoad != nil {
		return nil, rt.engine.FailLoad
	}
	doc, err := rt.read(ctx, in)
	if err != nil {
		return nil, err
	}
	return rt.compile(doc)
}

// Use implements xproc.Runtime.
func (rt *Runtime) Use(_ context.Context, doc *xproc.Document) (xproc.Pipeline, error) {
	if rt.engine.FailLoad != nil {
		return nil, rt.engine.FailLoad
	}
	rt.Used = append(rt.Used, doc)
	return rt.compile(doc)
}

// LoadLibrary implements xproc.Runtime.
func (rt *Runtime) LoadLibrary(ctx context.Context, in *xproc.Input) (xproc.Library, error) {
	if rt.engine.FailLoad != nil {
		return nil, rt.engine.FailLoad
	}
	doc, err := rt.read(ctx, in)
	if err != nil {
		return nil, err
	}
	lib := &Library{URI: in.URI, Doc: doc}
	rt.Libraries = append(rt.Libraries, lib)
	return lib, nil
}

// Close implements xproc.Runtime.
func (rt *Runtime) Close() error {
	rt.Closed = true
	return nil
}

func (rt *Runtime) read(ctx context.Context, in *xproc.Input) (*xproc.Document, error) {
	switch in.Kind {
	case xproc.InputStream:
		rc := in.Take()
		if rc == nil {
			return nil, errors.New("stream already consumed")
		}
		defer rc.Close()
		return xmldoc.Parse(rc, in.URI)
	case xproc.InputURI:
		if rt.Settings.Resolver == nil {
			return nil, fmt.Errorf("no resolver for %s", in.URI)
		}
		rc, systemID, err := rt.Settings.Resolver.Resolve(ctx, in.URI, rt.Settings.StaticBaseURI)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return xmldoc.Parse(rc, systemID)
	default:
		return nil, fmt.Errorf("unsupported input kind %s", in.Kind)
	}
}

func (rt *Runtime) compile(doc *xproc.Document) (*Pipeline, error) {
	p, err := Compile(doc)
	if err != nil {
		return nil, err
	}
	p.engine = rt.engine
	rt.Pipelines = append(rt.Pipelines, p)
	return p, nil
}

// Library is a parsed library document.
type Library struct {
	URI string
	Doc *xproc.Document
}

// FirstPipelineType implements xproc.Library.
func (l *Library) FirstPipelineType() (xproc.QName, bool) {
	root := l.Doc.Root
	if root == nil {
		return xproc.QName{}, false
	}
	candidates := []*xmldoc.Element{root}
	if isXProc(root, "library") {
		candidates = root.Elements()
	}
	for _, el := range candidates {
		if !isXProc(el, "declare-step") && !isXProc(el, "pipeline") {
			continue
		}
		typ, ok := el.Attr("", "type")
		if !ok {
			continue
		}
		name, err := qname.Parse(typ, el.LookupNamespace)
		if err != nil {
			continue
		}
		return name, true
	}
	return xproc.QName{}, false
}

// Pipeline is a compiled pipeline that records its bindings.
type Pipeline struct {
	engine *Engine

	Doc      *xproc.Document
	declared xproc.DeclaredPorts
	readable map[string]bool
	serial   map[string]*xproc.Serialization

	mu      sync.Mutex
	inputs  map[string][]*xproc.Document
	cleared []string
	params  map[string][]xproc.NameValue
	options []xproc.NameValue
	outputs map[string][]*xproc.Document
	runs    int
}

// Compile reads the port declarations of a p:declare-step or p:pipeline document.
func Compile(doc *xproc.Document) (*Pipeline, error) {
	root := doc.Root
	if root == nil || (!isXProc(root, "declare-step") && !isXProc(root, "pipeline")) {
		return nil, fmt.Errorf("%s: not a pipeline", doc.BaseURI)
	}
	p := &Pipeline{
		Doc:      doc,
		readable: make(map[string]bool),
		serial:   make(map[string]*xproc.Serialization),
		inputs:   make(map[string][]*xproc.Document),
		params:   make(map[string][]xproc.NameValue),
		outputs:  make(map[string][]*xproc.Document),
	}

	var inputs []*xmldoc.Element
	var outputs []*xmldoc.Element
	for _, el := range root.Elements() {
		switch {
		case isXProc(el, "input"):
			inputs = append(inputs, el)
		case isXProc(el, "output"):
			outputs = append(outputs, el)
		case isXProc(el, "serialization"):
			port, _ := el.Attr("", "port")
			opts := make(map[string]string, len(el.Attrs))
			for _, a := range el.Attrs {
				if a.Name.Namespace == "" && a.Name.Local != "port" {
					opts[a.Name.Local] = a.Value
				}
			}
			s := xmldoc.SerializationFromOptions(opts)
			p.serial[port] = &s
		}
	}

	if isXProc(root, "pipeline") {
		p.declared.Inputs = append(p.declared.Inputs,
			xproc.InputPort{Name: "source", Primary: true},
			xproc.InputPort{Name: "parameters", Primary: true, Parameter: true})
		p.declared.Outputs = append(p.declared.Outputs, xproc.OutputPort{Name: "result", Primary: true})
	}

	var plain, params []*xmldoc.Element
	for _, el := range inputs {
		if kind, _ := el.Attr("", "kind"); kind == "parameter" {
			params = append(params, el)
		} else {
			plain = append(plain, el)
		}
	}
	for _, el := range inputs {
		name, ok := el.Attr("", "port")
		if !ok {
			return nil, fmt.Errorf("p:input without a port")
		}
		kind, _ := el.Attr("", "kind")
		isParam := kind == "parameter"
		peers := plain
		if isParam {
			peers = params
		}
		port := xproc.InputPort{
			Name:      name,
			Parameter: isParam,
			Primary:   primary(el, len(peers) == 1),
			Sequence:  flag(el, "sequence"),
		}
		p.declared.Inputs = append(p.declared.Inputs, port)
		if len(el.Elements()) > 0 {
			p.readable[name] = true
		}
	}
	for _, el := range outputs {
		name, ok := el.Attr("", "port")
		if !ok {
			return nil, fmt.Errorf("p:output without a port")
		}
		p.declared.Outputs = append(p.declared.Outputs, xproc.OutputPort{
			Name:     name,
			Primary:  primary(el, len(outputs) == 1),
			Sequence: flag(el, "sequence"),
		})
	}
	return p, nil
}

func isXProc(el *xmldoc.Element, local string) bool {
	return el.Name.Namespace == xmlnames.XProcNamespace && el.Name.Local == local
}

func primary(el *xmldoc.Element, only bool) bool {
	if v, ok := el.Attr("", "primary"); ok {
		return v == "true"
	}
	return only
}

func flag(el *xmldoc.Element, name string) bool {
	v, _ := el.Attr("", name)
	return v == "true"
}

// Ports implements xproc.Pipeline.
func (p *Pipeline) Ports() xproc.DeclaredPorts {
	return p.declared
}

// ClearInputs implements xproc.Pipeline.
func (p *Pipeline) ClearInputs(port string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inputs, port)
	p.cleared = append(p.cleared, port)
}

// WriteTo implements xproc.Pipeline.
func (p *Pipeline) WriteTo(port string, doc *xproc.Document) error {
	if _, ok := p.declared.Input(port); !ok {
		return fmt.Errorf("no input port %q", port)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inputs[port] = append(p.inputs[port], doc)
	return nil
}

// HasReadablePipes implements xproc.Pipeline.
func (p *Pipeline) HasReadablePipes(port string) bool {
	return p.readable[port]
}

// SetParameter implements xproc.Pipeline.
func (p *Pipeline) SetParameter(port string, name xproc.QName, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.params[port] = append(p.params[port], xproc.NameValue{Name: name, Value: value})
}

// PassOption implements xproc.Pipeline.
func (p *Pipeline) PassOption(name xproc.QName, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.options = append(p.options, xproc.NameValue{Name: name, Value: value})
}

// Run implements xproc.Pipeline.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	p.runs++
	p.mu.Unlock()
	if p.engine != nil {
		if p.engine.FailRun != nil {
			return p.engine.FailRun
		}
		if p.engine.Run != nil {
			return p.engine.Run(ctx, p)
		}
	}
	var docs []*xproc.Document
	for _, in := range p.declared.Inputs {
		if in.Primary && !in.Parameter {
			docs = p.Inputs(in.Name)
			break
		}
	}
	for _, out := range p.declared.Outputs {
		p.SetOutput(out.Name, docs...)
	}
	return nil
}

// SetOutput replaces the documents an output port yields.
func (p *Pipeline) SetOutput(port string, docs ...*xproc.Document) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outputs[port] = slices.Clone(docs)
}

// ReadFrom implements xproc.Pipeline.
func (p *Pipeline) ReadFrom(port string) (xproc.ReadablePipe, error) {
	if _, ok := p.declared.Output(port); !ok {
		return nil, fmt.Errorf("no output port %q", port)
	}
	p.mu.Lock()
	docs := slices.Clone(p.outputs[port])
	p.mu.Unlock()
	return &pipe{owner: p, port: port, docs: docs}, nil
}

// Serialization implements xproc.Pipeline.
func (p *Pipeline) Serialization(port string) *xproc.Serialization {
	return p.serial[port]
}

// Inputs returns the documents written to port.
func (p *Pipeline) Inputs(port string) []*xproc.Document {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.inputs[port])
}

// Cleared returns the ports cleared, in call order.
func (p *Pipeline) Cleared() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.cleared)
}

// Params returns the parameters set on port, in call order.
func (p *Pipeline) Params(port string) []xproc.NameValue {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.params[port])
}

// Options returns the options passed, in call order.
func (p *Pipeline) Options() []xproc.NameValue {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.options)
}

// Runs reports how many times the pipeline ran.
func (p *Pipeline) Runs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runs
}

type pipe struct {
	owner *Pipeline
	port  string
	docs  []*xproc.Document
}

func (r *pipe) Read(ctx context.Context) (*xproc.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e := r.owner.engine; e != nil {
		if e.OnRead != nil {
			e.OnRead(r.port)
		}
		if err := e.FailRead[r.port]; err != nil {
			return nil, err
		}
	}
	if len(r.docs) == 0 {
		return nil, io.EOF
	}
	doc := r.docs[0]
	r.docs = r.docs[1:]
	return doc, nil
}
