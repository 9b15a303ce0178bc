package xproc

import (
	"context"
	"slices"
	"strconv"
	"strings"

	xerrors "github.com/jacoelho/xproc/errors"
	"github.com/jacoelho/xproc/internal/qname"
	"github.com/jacoelho/xproc/internal/spill"
	"github.com/jacoelho/xproc/internal/xmldoc"
	"github.com/jacoelho/xproc/internal/xmlnames"
)

const (
	stepNamePrefix   = "cmdlineStep"
	defaultInputPort = "source"
	resultPort       = "result"
	parametersPort   = "parameters"
)

func pName(local string) QName {
	return qname.New(xmlnames.XProcPrefix, xmlnames.XProcNamespace, local)
}

func attrName(local string) QName {
	return qname.Local(local)
}

// synthesize builds the implicit pipeline for a request made of libraries
// and steps. Stream inputs and libraries are materialized through sp.
func synthesize(ctx context.Context, req *Request, rt Runtime, staticBaseURI string, sp *spill.Spiller) (*Document, error) {
	if err := req.CheckArgs(); err != nil {
		return nil, err
	}
	if len(req.steps) == 0 && len(req.libraries) > 0 {
		if err := adoptLibraryPipeline(ctx, req, rt, sp); err != nil {
			return nil, err
		}
	}

	b := xmldoc.NewBuilder(staticBaseURI)
	b.Start(pName("declare-step")).
		Namespace(xmlnames.XProcPrefix, xmlnames.XProcNamespace).
		Attr(attrName("version"), "1.0")

	b.Start(pName("input")).
		Attr(attrName("port"), defaultInputPort).
		Attr(attrName("sequence"), "true").
		End()
	b.Start(pName("input")).
		Attr(attrName("port"), parametersPort).
		Attr(attrName("kind"), "parameter").
		End()

	last := stepNamePrefix + strconv.Itoa(len(req.steps))
	for _, port := range implicitOutputPorts(req.outputs) {
		b.Start(pName("output")).Attr(attrName("port"), port)
		if port == resultPort {
			b.Attr(attrName("primary"), "true")
		}
		b.Start(pName("pipe")).
			Attr(attrName("step"), last).
			Attr(attrName("port"), port).
			End().
			End()
	}

	for i, lib := range req.libraries {
		href, err := materialize(lib, sp)
		if err != nil {
			return nil, err
		}
		if lib.Kind == InputStream {
			req.libraries[i] = NewURIInput(href, PayloadXML, "")
		}
		b.Start(pName("import")).Attr(attrName("href"), href).End()
	}

	for i, step := range req.steps {
		if err := writeStep(b, step, stepNamePrefix+strconv.Itoa(i+1), sp); err != nil {
			return nil, err
		}
	}

	b.End()
	doc, err := b.Document()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.InvalidConfiguration, err, "build implicit pipeline")
	}
	return doc, nil
}

// adoptLibraryPipeline turns a lone library into a one-step pipeline that
// runs the library's first pipeline.
func adoptLibraryPipeline(ctx context.Context, req *Request, rt Runtime, sp *spill.Spiller) error {
	lib := req.libraries[0]
	if lib.Kind == InputStream {
		href, err := materialize(lib, sp)
		if err != nil {
			return err
		}
		lib = NewURIInput(href, PayloadXML, "")
		req.libraries[0] = lib
	}
	loaded, err := rt.LoadLibrary(ctx, lib)
	if err != nil {
		return xerrors.Wrap(xerrors.Engine, err, "load library "+lib.URI)
	}
	typ, ok := loaded.FirstPipelineType()
	if !ok {
		return xerrors.New(xerrors.InvalidConfiguration, "library "+lib.URI+" declares no pipeline")
	}
	req.commitStep(typ.Clark())
	return req.CheckArgs()
}

// implicitOutputPorts lists the output ports of an implicit pipeline. The
// unnamed binding is the primary "result" port, which is also the only port
// when no outputs were requested.
func implicitOutputPorts(outputs map[string]Output) []string {
	if len(outputs) == 0 {
		return []string{resultPort}
	}
	var ports []string
	for port := range outputs {
		if port == "" {
			port = resultPort
		}
		if !slices.Contains(ports, port) {
			ports = append(ports, port)
		}
	}
	slices.Sort(ports)
	return ports
}

func writeStep(b *xmldoc.Builder, step *StepRequest, name string, sp *spill.Spiller) error {
	typ := step.typeName
	b.Start(typ)
	if typ.Prefix != "" && typ.Prefix != xmlnames.XProcPrefix {
		b.Namespace(typ.Prefix, typ.Namespace)
	}
	b.Attr(attrName("name"), name)
	for _, opt := range step.resolvedOptions {
		if opt.Name.Prefix != "" {
			b.Namespace(opt.Name.Prefix, opt.Name.Namespace)
		}
		b.Attr(opt.Name, opt.Value)
	}

	for _, port := range sortedKeys(step.inputs) {
		portName := port
		if portName == "" {
			portName = defaultInputPort
		}
		b.Start(pName("input")).Attr(attrName("port"), portName)
		for _, in := range step.inputs[port] {
			if err := writeInput(b, in, sp); err != nil {
				return err
			}
		}
		b.End()
	}

	for _, port := range sortedKeys(step.resolvedParams) {
		for _, param := range step.resolvedParams[port] {
			b.Start(pName("with-param"))
			if port != WildcardPort {
				b.Attr(attrName("port"), port)
			}
			lexical := param.Name
			if lexical.Prefix == "" && lexical.Namespace != "" {
				lexical.Prefix = "ns1"
			}
			if lexical.Namespace != "" {
				b.Namespace(lexical.Prefix, lexical.Namespace)
			}
			b.Attr(attrName("name"), lexical.String()).
				Attr(attrName("select"), xpathLiteral(param.Value)).
				End()
		}
	}
	b.End()
	return nil
}

func writeInput(b *xmldoc.Builder, in *Input, sp *spill.Spiller) error {
	if in.Kind == InputURI && in.URI == EmptyURI {
		b.Start(pName("empty")).End()
		return nil
	}
	href, err := materialize(in, sp)
	if err != nil {
		return err
	}
	switch in.Payload {
	case PayloadXML:
		b.Start(pName("document")).Attr(attrName("href"), href).End()
	case PayloadData:
		b.Start(pName("data")).Attr(attrName("href"), href)
		if in.ContentType != "" {
			b.Attr(attrName("content-type"), in.ContentType)
		}
		b.End()
	default:
		return xerrors.Newf(xerrors.UnsupportedInput, "unsupported payload kind %s", in.Payload)
	}
	return nil
}

// materialize returns a URI the engine can dereference for in. Streams are
// copied to spill files, except standard input which is referenced as "-".
func materialize(in *Input, sp *spill.Spiller) (string, error) {
	switch in.Kind {
	case InputURI:
		return in.URI, nil
	case InputStream:
		if in.IsStdin() {
			return StdioURI, nil
		}
		rc := in.Take()
		if rc == nil {
			return "", xerrors.New(xerrors.IO, "stream "+in.URI+" already consumed")
		}
		defer rc.Close()
		href, err := sp.Materialize(rc, in.URI)
		if err != nil {
			return "", xerrors.Wrap(xerrors.IO, err, "materialize "+in.URI)
		}
		return href, nil
	default:
		return "", xerrors.Newf(xerrors.UnsupportedInput, "unsupported input kind %s", in.Kind)
	}
}

// xpathLiteral quotes s as an XPath string literal.
func xpathLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
