package xproc

import (
	"errors"
	"io"
	"maps"
	"net/url"
	"slices"
	"strings"

	xerrors "github.com/jacoelho/xproc/errors"
	"github.com/jacoelho/xproc/internal/contenttype"
	"github.com/jacoelho/xproc/internal/qname"
)

// WildcardPort is the parameter port that applies to every parameter input.
const WildcardPort = "*"

// NameValue is a resolved option or parameter binding.
type NameValue struct {
	Name  QName
	Value string
}

// StepRequest is one step of an implicit pipeline, or the pipeline-level
// bindings when a literal pipeline is used.
type StepRequest struct {
	// Name is the lexical step type; empty for a step still being built.
	Name string

	inputs  map[string][]*Input
	options map[string]string
	params  map[string]map[string]string

	typeName        QName
	resolvedOptions []NameValue
	resolvedParams  map[string][]NameValue
}

func newStepRequest() *StepRequest {
	return &StepRequest{
		inputs:  make(map[string][]*Input),
		options: make(map[string]string),
		params:  make(map[string]map[string]string),
	}
}

// Type returns the resolved step type. It is valid after a successful CheckArgs.
func (s *StepRequest) Type() QName { return s.typeName }

func (s *StepRequest) addInput(port string, in *Input) {
	s.inputs[port] = append(s.inputs[port], in)
}

func (s *StepRequest) addOption(name, value string) error {
	if _, ok := s.options[name]; ok {
		return xerrors.Newf(xerrors.DuplicateBinding, "duplicate option name %q", name)
	}
	s.options[name] = value
	return nil
}

func (s *StepRequest) addParam(port, name, value string) error {
	byName := s.params[port]
	if byName == nil {
		byName = make(map[string]string)
		s.params[port] = byName
	}
	if _, ok := byName[name]; ok {
		return xerrors.ForPort(xerrors.DuplicateBinding, port, "duplicate parameter name "+name)
	}
	byName[name] = value
	return nil
}

// check resolves the step type, options and parameters against resolve.
// Resolved values are only replaced when every name resolves.
func (s *StepRequest) check(resolve qname.Resolver) error {
	var typeName QName
	if s.Name != "" {
		name, err := resolveName(s.Name, resolve)
		if err != nil {
			return err
		}
		typeName = name
	}

	options, err := resolveNames(s.options, resolve, "option", "")
	if err != nil {
		return err
	}

	params := make(map[string][]NameValue, len(s.params))
	for _, port := range sortedKeys(s.params) {
		resolved, err := resolveNames(s.params[port], resolve, "parameter", port)
		if err != nil {
			return err
		}
		params[port] = resolved
	}

	s.typeName = typeName
	s.resolvedOptions = options
	s.resolvedParams = params
	return nil
}

func resolveNames(plain map[string]string, resolve qname.Resolver, what, port string) ([]NameValue, error) {
	out := make([]NameValue, 0, len(plain))
	seen := make(map[string]string, len(plain))
	for _, lexical := range sortedKeys(plain) {
		name, err := resolveName(lexical, resolve)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[name.Clark()]; ok {
			e := xerrors.Newf(xerrors.DuplicateBinding, "duplicate %s name %s (also written %s)", what, lexical, prev)
			e.Port = port
			return nil, e
		}
		seen[name.Clark()] = lexical
		out = append(out, NameValue{Name: name, Value: plain[lexical]})
	}
	slices.SortFunc(out, func(a, b NameValue) int { return strings.Compare(a.Name.Clark(), b.Name.Clark()) })
	return out, nil
}

func resolveName(lexical string, resolve qname.Resolver) (QName, error) {
	name, err := qname.Parse(lexical, resolve)
	if err == nil {
		return name, nil
	}
	var unbound *qname.UnboundPrefixError
	if errors.As(err, &unbound) {
		return QName{}, xerrors.Wrap(xerrors.UnboundPrefix, err, "unbound prefix "+unbound.Prefix)
	}
	return QName{}, xerrors.Wrap(xerrors.InvalidConfiguration, err, "invalid name "+lexical)
}

// Request collects the arguments of one pipeline invocation. It is built
// incrementally and validated lazily by CheckArgs.
type Request struct {
	baseURI    *url.URL
	pipeline   *Input
	steps      []*StepRequest
	current    *StepRequest
	committed  *StepRequest
	libraries  []*Input
	outputs    map[string]Output
	namespaces map[string]string
	flags      Flags
	needsCheck bool
}

// NewRequest returns an empty request.
func NewRequest() *Request {
	return &Request{
		current:    newStepRequest(),
		outputs:    make(map[string]Output),
		namespaces: make(map[string]string),
		needsCheck: true,
	}
}

// SetBaseURI sets the URI relative input, output and configuration
// references are resolved against.
func (r *Request) SetBaseURI(uri string) error {
	if uri == "" {
		r.baseURI = nil
		return nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return xerrors.Wrap(xerrors.InvalidConfiguration, err, "invalid base URI")
	}
	r.baseURI = u
	return nil
}

func (r *Request) fixUpURI(uri string) string {
	if r.baseURI == nil {
		return uri
	}
	ref, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	return r.baseURI.ResolveReference(ref).String()
}

// SetPipeline selects a literal pipeline document by URI.
func (r *Request) SetPipeline(uri string) error {
	return r.setPipeline(NewURIInput(r.fixUpURI(uri), PayloadXML, ""))
}

// SetPipelineStream selects a literal pipeline document read from rd.
func (r *Request) SetPipelineStream(rd io.Reader, uri string) error {
	if rd == nil {
		return nilStream("pipeline " + uri)
	}
	return r.setPipeline(NewStreamInput(rd, uri, PayloadXML, ""))
}

func (r *Request) setPipeline(in *Input) error {
	r.needsCheck = true
	if r.pipeline != nil {
		_ = in.Close()
		return xerrors.New(xerrors.DuplicateBinding, "multiple pipelines are not supported")
	}
	r.pipeline = in
	return nil
}

// AddStep commits the step being built under name and starts a new one.
// Options added afterwards apply to the committed step.
func (r *Request) AddStep(name string) error {
	if strings.TrimSpace(name) == "" {
		return xerrors.New(xerrors.InvalidConfiguration, "step name is empty")
	}
	r.commitStep(name)
	return nil
}

func (r *Request) commitStep(name string) {
	r.needsCheck = true
	r.ensure()
	step := r.current
	step.Name = name
	r.steps = append(r.steps, step)
	r.committed = step
	r.current = newStepRequest()
}

// AddLibrary imports a pipeline library by URI.
func (r *Request) AddLibrary(uri string) {
	r.needsCheck = true
	r.libraries = append(r.libraries, NewURIInput(uri, PayloadXML, ""))
}

// AddLibraryStream imports a pipeline library read from rd.
func (r *Request) AddLibraryStream(rd io.Reader, uri string) {
	r.needsCheck = true
	r.libraries = append(r.libraries, NewStreamInput(rd, uri, PayloadXML, ""))
}

// AddOutput binds an output port to a URI. The empty port is the primary
// output; the URI "-" selects the result buffer returned by Invoke.
func (r *Request) AddOutput(port, uri string) error {
	if uri != StdioURI {
		uri = r.fixUpURI(uri)
	}
	return r.addOutput(port, Output{Kind: OutputURI, URI: uri})
}

// AddOutputSink binds an output port to a caller-owned writer.
func (r *Request) AddOutputSink(port string, w io.Writer) error {
	if w == nil {
		return xerrors.ForPort(xerrors.InvalidConfiguration, port, "nil output writer")
	}
	return r.addOutput(port, Output{Kind: OutputSink, Sink: w})
}

// AddOutputDiscard drains an output port without keeping its documents.
func (r *Request) AddOutputDiscard(port string) error {
	return r.addOutput(port, Output{Kind: OutputDiscard})
}

func (r *Request) addOutput(port string, out Output) error {
	r.ensure()
	if _, ok := r.outputs[port]; ok {
		if port == "" {
			return xerrors.New(xerrors.DuplicateBinding, "duplicate output binding for the default output port")
		}
		return xerrors.ForPort(xerrors.DuplicateBinding, port, "duplicate output binding")
	}
	r.outputs[port] = out
	return nil
}

// AddNamespace binds prefix to uri for names in steps, options and parameters.
func (r *Request) AddNamespace(prefix, uri string) error {
	r.ensure()
	if !qname.IsNCName(prefix) {
		return xerrors.Newf(xerrors.InvalidConfiguration, "invalid namespace prefix %q", prefix)
	}
	if _, ok := r.namespaces[prefix]; ok {
		return xerrors.Newf(xerrors.DuplicateBinding, "duplicate prefix binding %q", prefix)
	}
	r.needsCheck = true
	r.namespaces[prefix] = uri
	return nil
}

// AddInput binds a URI to an input port of the step being built. Relative
// references are resolved against the base URI.
func (r *Request) AddInput(port, uri string, payload PayloadKind, contentType string) {
	r.ensure()
	if !keepsURI(uri) {
		uri = r.fixUpURI(uri)
	}
	r.current.addInput(port, NewURIInput(uri, payload, contentType))
}

func keepsURI(uri string) bool {
	if uri == StdioURI || uri == EmptyURI {
		return true
	}
	for _, scheme := range []string{"http:", "https:", "file:"} {
		if strings.HasPrefix(uri, scheme) {
			return true
		}
	}
	return false
}

// AddInputStream binds a stream to an input port of the step being built.
// A missing or "content/unknown" content type is sniffed from the leading
// bytes, then guessed from uri.
func (r *Request) AddInputStream(port string, rd io.Reader, uri string, payload PayloadKind, contentType string) error {
	if rd == nil {
		return nilStream("input " + uri)
	}
	r.ensure()
	if contenttype.NeedsDetection(contentType) {
		detected, replay, err := contenttype.Detect(rd, uri)
		if err != nil {
			_ = asReadCloser(rd).Close()
			return xerrors.Wrap(xerrors.IO, err, "sniff content type of "+uri)
		}
		rd = readCloser{Reader: replay, closer: asReadCloser(rd)}
		contentType = detected
	}
	r.current.addInput(port, NewStreamInput(rd, uri, payload, contentType))
	return nil
}

// AddStdinInput binds standard input to an input port of the step being built.
func (r *Request) AddStdinInput(port string, rd io.Reader, payload PayloadKind, contentType string) {
	r.ensure()
	r.current.addInput(port, NewStdinInput(rd, payload, contentType))
}

type readCloser struct {
	io.Reader
	closer io.Closer
}

func (rc readCloser) Close() error { return rc.closer.Close() }

// AddOption adds an option to the last committed step, or to the step being
// built when none has been committed.
func (r *Request) AddOption(name, value string) error {
	r.ensure()
	r.needsCheck = true
	target := r.committed
	if target == nil {
		target = r.current
	}
	return target.addOption(name, value)
}

// AddParam adds a parameter to the step being built. A name of the form
// "port@name" scopes it to that port, otherwise it applies to every
// parameter input.
func (r *Request) AddParam(name, value string) error {
	port := WildcardPort
	if i := strings.IndexByte(name, '@'); i > 0 {
		port, name = name[:i], name[i+1:]
	}
	return r.AddPortParam(port, name, value)
}

// AddPortParam adds a parameter scoped to port.
func (r *Request) AddPortParam(port, name, value string) error {
	r.ensure()
	r.needsCheck = true
	return r.current.addParam(port, name, value)
}

// CheckArgs validates the request. It only does work after a mutation; a
// failed check is repeated, and fails the same way, on the next call.
func (r *Request) CheckArgs() error {
	r.ensure()
	if !r.needsCheck {
		return nil
	}
	if r.hasImplicitPipeline() && r.pipeline != nil {
		return xerrors.New(xerrors.ConflictingPipelineSource, "a pipeline cannot be combined with libraries or steps")
	}
	if r.flags.ProcessorConfig != nil {
		if r.flags.SchemaAware {
			return xerrors.New(xerrors.InvalidConfiguration, "schema-aware processing cannot be combined with a processor configuration")
		}
		if r.flags.ProcessorVariant != "" {
			return xerrors.New(xerrors.InvalidConfiguration, "a processor variant cannot be combined with a processor configuration")
		}
	}
	if r.flags.SchemaAware && r.flags.ProcessorVariant != "" && r.flags.ProcessorVariant != VariantEnterprise {
		return xerrors.Newf(xerrors.UnsupportedProcessorVariant, "schema-aware processing requires processor variant ee, not %s", r.flags.ProcessorVariant)
	}

	resolve := qname.MapResolver(r.namespaces)
	for _, step := range r.steps {
		if err := step.check(resolve); err != nil {
			return err
		}
	}
	if err := r.current.check(resolve); err != nil {
		return err
	}
	r.needsCheck = false
	return nil
}

func (r *Request) ensure() {
	if r.current == nil {
		r.current = newStepRequest()
	}
	if r.outputs == nil {
		r.outputs = make(map[string]Output)
	}
	if r.namespaces == nil {
		r.namespaces = make(map[string]string)
	}
}

func (r *Request) hasImplicitPipeline() bool {
	return len(r.steps) > 0 || len(r.libraries) > 0
}

// HasImplicitPipeline reports whether the request describes its pipeline
// through libraries and steps.
func (r *Request) HasImplicitPipeline() bool {
	return r.hasImplicitPipeline()
}

// Pipeline returns the literal pipeline source, if any.
func (r *Request) Pipeline() *Input {
	return r.pipeline
}

// Libraries returns the imported libraries in the order they were added.
func (r *Request) Libraries() []*Input {
	return slices.Clone(r.libraries)
}

// Steps returns the committed steps in order.
func (r *Request) Steps() []*StepRequest {
	return slices.Clone(r.steps)
}

// Namespaces returns a copy of the prefix bindings.
func (r *Request) Namespaces() map[string]string {
	return maps.Clone(r.namespaces)
}

// Outputs returns a copy of the output bindings.
func (r *Request) Outputs() map[string]Output {
	return maps.Clone(r.outputs)
}

// InputPorts lists the ports bound at the pipeline level, sorted. It is
// empty when steps are compiled into an implicit pipeline.
func (r *Request) InputPorts() []string {
	if len(r.steps) > 0 || r.current == nil {
		return nil
	}
	return sortedKeys(r.current.inputs)
}

// Inputs returns the pipeline-level inputs bound to port.
func (r *Request) Inputs(port string) []*Input {
	if len(r.steps) > 0 || r.current == nil {
		return nil
	}
	return slices.Clone(r.current.inputs[port])
}

// ParameterPorts lists the ports with pipeline-level parameters, sorted.
func (r *Request) ParameterPorts() ([]string, error) {
	if err := r.CheckArgs(); err != nil {
		return nil, err
	}
	if len(r.steps) > 0 {
		return nil, nil
	}
	return sortedKeys(r.current.resolvedParams), nil
}

// Parameters returns the pipeline-level parameters of port.
func (r *Request) Parameters(port string) ([]NameValue, error) {
	if err := r.CheckArgs(); err != nil {
		return nil, err
	}
	if len(r.steps) > 0 {
		return nil, nil
	}
	return slices.Clone(r.current.resolvedParams[port]), nil
}

// Options returns the pipeline-level options.
func (r *Request) Options() ([]NameValue, error) {
	if err := r.CheckArgs(); err != nil {
		return nil, err
	}
	if len(r.steps) > 0 {
		return nil, nil
	}
	return slices.Clone(r.current.resolvedOptions), nil
}

// Settings returns the engine settings derived from the request flags.
func (r *Request) Settings() Settings {
	s := Settings{Flags: r.flags, Resolver: r.flags.URIResolver}
	if r.baseURI != nil {
		s.StaticBaseURI = r.baseURI.String()
	}
	return s
}

// Close closes every stream the request still owns.
func (r *Request) Close() error {
	var errs []error
	closeInput := func(in *Input) {
		if err := in.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.pipeline != nil {
		closeInput(r.pipeline)
	}
	for _, lib := range r.libraries {
		closeInput(lib)
	}
	for _, step := range append(slices.Clone(r.steps), r.current) {
		if step == nil {
			continue
		}
		for _, inputs := range step.inputs {
			for _, in := range inputs {
				closeInput(in)
			}
		}
	}
	if r.flags.ProcessorConfig != nil {
		closeInput(r.flags.ProcessorConfig)
	}
	if r.flags.Config != nil {
		closeInput(r.flags.Config)
	}
	return errors.Join(errs...)
}

func nilStream(what string) error {
	return xerrors.New(xerrors.InvalidConfiguration, "nil stream for "+what)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
