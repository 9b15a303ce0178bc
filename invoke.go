package xproc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jacoelho/xproc/docstore"
	xerrors "github.com/jacoelho/xproc/errors"
	"github.com/jacoelho/xproc/internal/spill"
	"github.com/jacoelho/xproc/internal/xmldoc"
	"github.com/jacoelho/xproc/resolver"
)

var globalLogger = logrus.New()

// SetLogger replaces the logger used by invokers created without WithLogger.
func SetLogger(l *logrus.Logger) {
	if l != nil {
		globalLogger = l
	}
}

// Invoker runs requests against an engine.
type Invoker struct {
	engine     Engine
	codec      DocumentCodec
	resolver   ResourceResolver
	store      DocumentStore
	base       *BaseConfig
	logger     *logrus.Logger
	spillDir   string
	drainLimit int

	mu      sync.Mutex
	spilled []*spill.Spiller
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithCodec sets the codec used to parse inputs and serialize outputs.
func WithCodec(c DocumentCodec) Option {
	return func(inv *Invoker) { inv.codec = c }
}

// WithResolver sets the resolver for input, library and configuration URIs.
func WithResolver(r ResourceResolver) Option {
	return func(inv *Invoker) { inv.resolver = r }
}

// WithStore sets the store that receives URI-bound outputs.
func WithStore(s DocumentStore) Option {
	return func(inv *Invoker) { inv.store = s }
}

// WithBaseConfig sets the configuration layered beneath every request.
func WithBaseConfig(cfg *BaseConfig) Option {
	return func(inv *Invoker) { inv.base = cfg }
}

// WithLogger sets the invoker's logger.
func WithLogger(l *logrus.Logger) Option {
	return func(inv *Invoker) { inv.logger = l }
}

// WithSpillDir sets the directory for materialized streams.
func WithSpillDir(dir string) Option {
	return func(inv *Invoker) { inv.spillDir = dir }
}

// WithDrainConcurrency bounds how many output ports drain at once; zero or
// less means no bound.
func WithDrainConcurrency(n int) Option {
	return func(inv *Invoker) { inv.drainLimit = n }
}

// New returns an Invoker for engine.
func New(engine Engine, opts ...Option) *Invoker {
	inv := &Invoker{engine: engine}
	for _, opt := range opts {
		opt(inv)
	}
	if inv.codec == nil {
		inv.codec = xmldoc.Codec{}
	}
	if inv.resolver == nil {
		inv.resolver = resolver.Default()
	}
	if inv.store == nil {
		inv.store = docstore.NewDir("")
	}
	if inv.logger == nil {
		inv.logger = globalLogger
	}
	return inv
}

// Invoke runs req and returns the serialized documents of every output port
// that was not discarded. defaultInput, when non-nil, feeds the primary input
// port if nothing else binds it. Every stream owned by req and defaultInput
// are closed before Invoke returns.
func (inv *Invoker) Invoke(ctx context.Context, staticBaseURI string, req *Request, defaultInput io.ReadCloser) (results map[string]*bytes.Buffer, err error) {
	log := inv.logger.WithFields(logrus.Fields{"invocation": uuid.NewString()})
	sp := inv.newSpiller()
	defer func() {
		if closeErr := req.Close(); closeErr != nil {
			log.WithError(closeErr).Warn("close request streams")
		}
		if defaultInput != nil {
			if closeErr := defaultInput.Close(); closeErr != nil {
				log.WithError(closeErr).Warn("close default input")
			}
		}
		inv.cleanup(sp, log)
	}()

	if err := req.CheckArgs(); err != nil {
		return nil, err
	}
	if inv.engine == nil {
		return nil, xerrors.New(xerrors.InvalidConfiguration, "no engine configured")
	}

	res := inv.resolver
	if req.flags.URIResolver != nil {
		res = req.flags.URIResolver
	}
	base := inv.base
	if req.flags.Config != nil {
		cfg, err := loadConfig(ctx, req.flags.Config, res, inv.codec)
		if err != nil {
			return nil, err
		}
		base = Merge(base, cfg)
	}
	if base == nil {
		base = &BaseConfig{}
	}

	settings := req.Settings()
	if staticBaseURI != "" {
		settings.StaticBaseURI = staticBaseURI
	}
	settings.Resolver = res
	rt, err := inv.engine.NewRuntime(ctx, settings)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.Engine, err, "create runtime")
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			if err == nil {
				results, err = nil, xerrors.Wrap(xerrors.Engine, closeErr, "close runtime")
			} else {
				log.WithError(closeErr).Warn("close runtime")
			}
		}
	}()

	pl, err := inv.loadPipeline(ctx, req, rt, base, settings.StaticBaseURI, res, sp, log)
	if err != nil {
		return nil, err
	}

	for _, port := range sortedKeys(base.Parameters) {
		for _, nv := range sortedNameValues(base.Parameters[port]) {
			pl.SetParameter(port, nv.Name, nv.Value)
		}
	}
	paramPorts, err := req.ParameterPorts()
	if err != nil {
		return nil, err
	}
	for _, port := range paramPorts {
		params, err := req.Parameters(port)
		if err != nil {
			return nil, err
		}
		for _, nv := range params {
			pl.SetParameter(port, nv.Name, nv.Value)
		}
	}

	table, err := resolveBindings(pl.Ports(), req, base)
	if err != nil {
		return nil, err
	}
	if err := inv.feedInputs(ctx, pl, table, defaultInput, res, settings.StaticBaseURI); err != nil {
		return nil, err
	}

	for _, nv := range sortedNameValues(base.Options) {
		pl.PassOption(nv.Name, nv.Value)
	}
	options, err := req.Options()
	if err != nil {
		return nil, err
	}
	for _, nv := range options {
		pl.PassOption(nv.Name, nv.Value)
	}

	if err := pl.Run(ctx); err != nil {
		return nil, xerrors.Wrap(xerrors.Engine, err, "run pipeline")
	}
	return inv.harvest(ctx, pl, table, base, log)
}

func (inv *Invoker) loadPipeline(ctx context.Context, req *Request, rt Runtime, base *BaseConfig, staticBaseURI string, res ResourceResolver, sp *spill.Spiller, log *logrus.Entry) (Pipeline, error) {
	switch {
	case req.pipeline != nil:
		pl, err := rt.Load(ctx, req.pipeline)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.Engine, err, "load pipeline "+req.pipeline.URI)
		}
		return pl, nil

	case req.hasImplicitPipeline():
		doc, err := synthesize(ctx, req, rt, staticBaseURI, sp)
		if err != nil {
			return nil, err
		}
		if req.flags.Debug {
			var buf strings.Builder
			if err := inv.codec.Write(&buf, doc, Serialization{Method: "xml", Indent: true}); err == nil {
				log.Infof("Implicit pipeline:\n%s", buf.String())
			}
		}
		pl, err := rt.Use(ctx, doc)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.Engine, err, "use implicit pipeline")
		}
		return pl, nil

	case base.Pipeline != nil:
		rc, systemID, err := res.Resolve(ctx, base.Pipeline.URI, staticBaseURI)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.IO, err, "resolve configured pipeline "+base.Pipeline.URI)
		}
		defer rc.Close()
		doc, err := inv.codec.Parse(ctx, rc, systemID)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.IO, err, "read configured pipeline "+base.Pipeline.URI)
		}
		pl, err := rt.Use(ctx, doc)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.Engine, err, "use configured pipeline")
		}
		return pl, nil

	default:
		return nil, xerrors.New(xerrors.InvalidConfiguration, "either a pipeline or libraries and/or steps must be given")
	}
}

// Plan writes the implicit pipeline req describes to w without running it.
// The engine is only needed when req names a single library and no steps.
// Streams still owned by req are closed before Plan returns.
func (inv *Invoker) Plan(ctx context.Context, w io.Writer, staticBaseURI string, req *Request) error {
	defer func() {
		if err := req.Close(); err != nil {
			inv.logger.WithError(err).Warn("close request streams")
		}
	}()
	if err := req.CheckArgs(); err != nil {
		return err
	}
	if !req.hasImplicitPipeline() {
		return xerrors.New(xerrors.InvalidConfiguration, "request has no libraries or steps")
	}
	sp := inv.newSpiller()

	var rt Runtime
	if len(req.steps) == 0 {
		if inv.engine == nil {
			return xerrors.New(xerrors.InvalidConfiguration, "a library without steps needs an engine to find its pipeline")
		}
		settings := req.Settings()
		settings.StaticBaseURI = staticBaseURI
		settings.Resolver = inv.resolver
		created, err := inv.engine.NewRuntime(ctx, settings)
		if err != nil {
			return xerrors.Wrap(xerrors.Engine, err, "create runtime")
		}
		defer created.Close()
		rt = created
	}

	doc, err := synthesize(ctx, req, rt, staticBaseURI, sp)
	if err != nil {
		return err
	}
	if err := inv.codec.Write(w, doc, Serialization{Method: "xml", Indent: true}); err != nil {
		return xerrors.Wrap(xerrors.IO, err, "write implicit pipeline")
	}
	return nil
}

// Close removes materialized files left by earlier invocations and plans.
func (inv *Invoker) Close() error {
	inv.mu.Lock()
	pending := inv.spilled
	inv.spilled = nil
	inv.mu.Unlock()

	var errs []error
	for _, sp := range pending {
		if err := sp.Cleanup(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (inv *Invoker) newSpiller() *spill.Spiller {
	sp := spill.New(inv.spillDir)
	inv.mu.Lock()
	inv.spilled = append(inv.spilled, sp)
	inv.mu.Unlock()
	return sp
}

// cleanup removes an invocation's files. Files that survive stay tracked
// until Close.
func (inv *Invoker) cleanup(sp *spill.Spiller, log *logrus.Entry) {
	if err := sp.Cleanup(); err != nil {
		log.WithError(err).Warn("remove materialized inputs")
		return
	}
	inv.mu.Lock()
	inv.spilled = slices.DeleteFunc(inv.spilled, func(s *spill.Spiller) bool { return s == sp })
	inv.mu.Unlock()
}

func sortedNameValues(m map[QName]string) []NameValue {
	out := make([]NameValue, 0, len(m))
	for name, value := range m {
		out = append(out, NameValue{Name: name, Value: value})
	}
	slices.SortFunc(out, func(a, b NameValue) int { return strings.Compare(a.Name.Clark(), b.Name.Clark()) })
	return out
}
