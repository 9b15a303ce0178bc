package xproc

import (
	"io"

	xerrors "github.com/jacoelho/xproc/errors"
)

// Processor variants accepted by SetProcessorVariant.
const (
	VariantHome         = "he"
	VariantProfessional = "pe"
	VariantEnterprise   = "ee"
)

// Log styles accepted by SetLogStyle.
const (
	LogStyleOff       = "off"
	LogStylePlain     = "plain"
	LogStyleWrapped   = "wrapped"
	LogStyleDirectory = "directory"
)

var knownJSONFlavors = map[string]bool{
	"marklogic": true,
	"jsonx":     true,
	"jxml":      true,
}

// Flags are the processor settings carried by a request.
type Flags struct {
	Debug               bool
	SafeMode            bool
	SchemaAware         bool
	ProcessorVariant    string
	ProcessorConfig     *Input
	Config              *Input
	LogStyle            string
	JSONFlavor          string
	Profile             *Output
	ExtensionValues     bool
	AllowXPointerOnText bool
	UseXSLT10           bool
	TransparentJSON     bool
	// EntityResolver is handed to the engine for external entities.
	EntityResolver ResourceResolver
	// URIResolver replaces the invoker's resolver for this request.
	URIResolver ResourceResolver
}

// SetDebug enables engine debugging and logs implicit pipelines.
func (r *Request) SetDebug(debug bool) { r.flags.Debug = debug }

// SetSafeMode restricts the engine to steps without side effects.
func (r *Request) SetSafeMode(safe bool) { r.flags.SafeMode = safe }

// SetSchemaAware requests schema-aware processing.
func (r *Request) SetSchemaAware(aware bool) {
	r.needsCheck = true
	r.flags.SchemaAware = aware
}

// SetProcessorVariant selects the processor edition: "he", "pe" or "ee".
func (r *Request) SetProcessorVariant(variant string) error {
	r.needsCheck = true
	switch variant {
	case VariantHome, VariantProfessional, VariantEnterprise:
		r.flags.ProcessorVariant = variant
		return nil
	default:
		return xerrors.Newf(xerrors.InvalidConfiguration, "invalid processor variant %q: must be he, pe or ee", variant)
	}
}

// SetProcessorConfig names a processor configuration document.
func (r *Request) SetProcessorConfig(uri string) error {
	return r.setProcessorConfig(NewURIInput(r.fixUpURI(uri), PayloadXML, ""))
}

// SetProcessorConfigStream supplies the processor configuration as a stream.
func (r *Request) SetProcessorConfigStream(rd io.Reader, uri string) error {
	if rd == nil {
		return nilStream("processor configuration " + uri)
	}
	return r.setProcessorConfig(NewStreamInput(rd, uri, PayloadXML, ""))
}

func (r *Request) setProcessorConfig(in *Input) error {
	r.needsCheck = true
	if r.flags.ProcessorConfig != nil {
		_ = in.Close()
		return xerrors.New(xerrors.DuplicateBinding, "multiple processor configurations are not supported")
	}
	r.flags.ProcessorConfig = in
	return nil
}

// SetConfig names a base configuration file layered under the request.
func (r *Request) SetConfig(uri string) error {
	return r.setConfig(NewURIInput(r.fixUpURI(uri), PayloadData, ""))
}

// SetConfigStream supplies the base configuration file as a stream.
func (r *Request) SetConfigStream(rd io.Reader, uri string) error {
	if rd == nil {
		return nilStream("configuration " + uri)
	}
	return r.setConfig(NewStreamInput(rd, uri, PayloadData, ""))
}

func (r *Request) setConfig(in *Input) error {
	if r.flags.Config != nil {
		_ = in.Close()
		return xerrors.New(xerrors.DuplicateBinding, "multiple configuration files are not supported")
	}
	r.flags.Config = in
	return nil
}

// SetLogStyle selects how the engine wraps its messages.
func (r *Request) SetLogStyle(style string) error {
	switch style {
	case LogStyleOff, LogStylePlain, LogStyleWrapped, LogStyleDirectory:
		r.flags.LogStyle = style
		return nil
	default:
		return xerrors.Newf(xerrors.InvalidConfiguration, "invalid log style %q: must be off, plain, wrapped or directory", style)
	}
}

// SetJSONFlavor selects the JSON-to-XML mapping. An empty name clears it.
func (r *Request) SetJSONFlavor(flavor string) error {
	if flavor != "" && !knownJSONFlavors[flavor] {
		return xerrors.Newf(xerrors.InvalidConfiguration, "unknown JSON flavor %q", flavor)
	}
	r.flags.JSONFlavor = flavor
	return nil
}

// SetProfile writes profiling data to uri; "-" selects the default destination.
func (r *Request) SetProfile(uri string) error {
	out := Output{Kind: OutputURI, URI: uri}
	if uri != StdioURI {
		out.URI = r.fixUpURI(uri)
	}
	return r.setProfile(out.normalized())
}

// SetProfileSink writes profiling data to w.
func (r *Request) SetProfileSink(w io.Writer) error {
	return r.setProfile(Output{Kind: OutputSink, Sink: w})
}

func (r *Request) setProfile(out Output) error {
	r.needsCheck = true
	if r.flags.Profile != nil {
		return xerrors.New(xerrors.DuplicateBinding, "multiple profile destinations are not supported")
	}
	r.flags.Profile = &out
	return nil
}

// SetExtensionValues allows extension values in option and variable values.
func (r *Request) SetExtensionValues(enabled bool) { r.flags.ExtensionValues = enabled }

// SetAllowXPointerOnText allows XPointer on text documents.
func (r *Request) SetAllowXPointerOnText(enabled bool) { r.flags.AllowXPointerOnText = enabled }

// SetUseXSLT10 makes the engine use an XSLT 1.0 processor.
func (r *Request) SetUseXSLT10(enabled bool) { r.flags.UseXSLT10 = enabled }

// SetTransparentJSON enables transparent JSON conversion.
func (r *Request) SetTransparentJSON(enabled bool) { r.flags.TransparentJSON = enabled }

// SetEntityResolver sets the resolver handed to the engine for entities.
func (r *Request) SetEntityResolver(res ResourceResolver) { r.flags.EntityResolver = res }

// SetURIResolver sets the resolver used for this request's documents.
func (r *Request) SetURIResolver(res ResourceResolver) { r.flags.URIResolver = res }
