package xproc

import (
	"context"
	"io"
	"maps"
	"strings"

	xerrors "github.com/jacoelho/xproc/errors"
	"github.com/jacoelho/xproc/internal/baseconfig"
	"github.com/jacoelho/xproc/internal/qname"
	"github.com/jacoelho/xproc/internal/xmldoc"
	"github.com/jacoelho/xproc/resolver"
)

// BaseConfig holds defaults that apply beneath every request: a fallback
// pipeline, port bindings, parameters, options and serialization.
type BaseConfig struct {
	Pipeline      *Input
	Inputs        map[string][]ReadablePipe
	Outputs       map[string]string
	Parameters    map[string]map[QName]string
	Options       map[QName]string
	Serialization map[string]string
}

// ParseConfig decodes a YAML base configuration. Relative references are
// resolved against baseURI. Input documents are read lazily through
// res and codec each time an invocation uses them.
func ParseConfig(r io.Reader, baseURI string, res ResourceResolver, codec DocumentCodec) (*BaseConfig, error) {
	f, err := baseconfig.Decode(r)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.InvalidConfiguration, err, "parse configuration "+baseURI)
	}
	resolve := qname.MapResolver(f.Namespaces)

	cfg := &BaseConfig{
		Inputs:        make(map[string][]ReadablePipe, len(f.Inputs)),
		Outputs:       make(map[string]string, len(f.Outputs)),
		Parameters:    make(map[string]map[QName]string, len(f.Parameters)),
		Options:       make(map[QName]string, len(f.Options)),
		Serialization: maps.Clone(f.Serialization),
	}
	if f.Pipeline != "" {
		cfg.Pipeline = NewURIInput(resolveAgainst(baseURI, f.Pipeline), PayloadXML, "")
	}
	for port, inputs := range f.Inputs {
		for _, in := range inputs {
			src := &configSource{
				href:        in.Href,
				inline:      in.Inline,
				base:        baseURI,
				data:        in.Data,
				contentType: in.ContentType,
				resolver:    res,
				codec:       codec,
			}
			cfg.Inputs[port] = append(cfg.Inputs[port], src.Reopen())
		}
	}
	for port, uri := range f.Outputs {
		if uri != StdioURI {
			uri = resolveAgainst(baseURI, uri)
		}
		cfg.Outputs[port] = uri
	}
	for port, params := range f.Parameters {
		resolved := make(map[QName]string, len(params))
		for lexical, value := range params {
			name, err := resolveName(lexical, resolve)
			if err != nil {
				return nil, err
			}
			resolved[name] = value
		}
		cfg.Parameters[port] = resolved
	}
	for lexical, value := range f.Options {
		name, err := resolveName(lexical, resolve)
		if err != nil {
			return nil, err
		}
		cfg.Options[name] = value
	}
	return cfg, nil
}

// Merge layers upper over lower; upper wins for every key it sets.
func Merge(lower, upper *BaseConfig) *BaseConfig {
	if lower == nil && upper == nil {
		return nil
	}
	out := &BaseConfig{
		Inputs:        make(map[string][]ReadablePipe),
		Outputs:       make(map[string]string),
		Parameters:    make(map[string]map[QName]string),
		Options:       make(map[QName]string),
		Serialization: make(map[string]string),
	}
	for _, layer := range []*BaseConfig{lower, upper} {
		if layer == nil {
			continue
		}
		if layer.Pipeline != nil {
			out.Pipeline = layer.Pipeline
		}
		maps.Copy(out.Inputs, layer.Inputs)
		maps.Copy(out.Outputs, layer.Outputs)
		for port, params := range layer.Parameters {
			merged := out.Parameters[port]
			if merged == nil {
				merged = make(map[QName]string, len(params))
				out.Parameters[port] = merged
			}
			for name, value := range params {
				deleteEqualName(merged, name)
				merged[name] = value
			}
		}
		for name, value := range layer.Options {
			deleteEqualName(out.Options, name)
			out.Options[name] = value
		}
		maps.Copy(out.Serialization, layer.Serialization)
	}
	return out
}

// deleteEqualName drops a key naming the same expanded name under another prefix.
func deleteEqualName(m map[QName]string, name QName) {
	for k := range m {
		if k.Equal(name) {
			delete(m, k)
		}
	}
}

func resolveAgainst(base, ref string) string {
	abs, err := resolver.Absolute(ref, base)
	if err != nil {
		return ref
	}
	return abs
}

// Reopener is implemented by pipes that can be replayed by later invocations.
type Reopener interface {
	Reopen() ReadablePipe
}

type configSource struct {
	href        string
	inline      string
	base        string
	data        bool
	contentType string
	resolver    ResourceResolver
	codec       DocumentCodec
}

func (s *configSource) Reopen() ReadablePipe {
	return &configPipe{src: s}
}

// configPipe yields one lazily read document.
type configPipe struct {
	src  *configSource
	done bool
}

func (p *configPipe) Reopen() ReadablePipe {
	return p.src.Reopen()
}

func (p *configPipe) Read(ctx context.Context) (*Document, error) {
	if p.done {
		return nil, io.EOF
	}
	p.done = true
	return p.src.read(ctx)
}

func (s *configSource) read(ctx context.Context) (*Document, error) {
	codec := s.codec
	if codec == nil {
		codec = xmldoc.Codec{}
	}
	if s.inline != "" {
		r := strings.NewReader(s.inline)
		if s.data {
			return codec.ParseData(ctx, r, s.base, s.contentType)
		}
		return codec.Parse(ctx, r, s.base)
	}
	if s.resolver == nil {
		return nil, xerrors.New(xerrors.IO, "no resolver for configuration input "+s.href)
	}
	rc, systemID, err := s.resolver.Resolve(ctx, s.href, s.base)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.IO, err, "resolve configuration input "+s.href)
	}
	defer rc.Close()
	var doc *Document
	if s.data {
		doc, err = codec.ParseData(ctx, rc, systemID, s.contentType)
	} else {
		doc, err = codec.Parse(ctx, rc, systemID)
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.IO, err, "read configuration input "+s.href)
	}
	return doc, nil
}

// loadConfig reads the configuration file named by a request.
func loadConfig(ctx context.Context, in *Input, res ResourceResolver, codec DocumentCodec) (*BaseConfig, error) {
	switch in.Kind {
	case InputStream:
		rc := in.Take()
		if rc == nil {
			return nil, xerrors.New(xerrors.IO, "configuration stream already consumed")
		}
		defer rc.Close()
		return ParseConfig(rc, in.URI, res, codec)
	case InputURI:
		rc, systemID, err := res.Resolve(ctx, in.URI, "")
		if err != nil {
			return nil, xerrors.Wrap(xerrors.IO, err, "resolve configuration "+in.URI)
		}
		defer rc.Close()
		return ParseConfig(rc, systemID, res, codec)
	default:
		return nil, xerrors.Newf(xerrors.InvalidConfiguration, "unsupported configuration input kind %s", in.Kind)
	}
}
