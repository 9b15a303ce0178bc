package xproc_test

import (
	"io"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacoelho/xproc"
	xerrors "github.com/jacoelho/xproc/errors"
	"github.com/jacoelho/xproc/internal/enginetest"
	"github.com/jacoelho/xproc/internal/xmldoc"
	"github.com/jacoelho/xproc/resolver"
)

const configYAML = `
namespaces:
  ex: http://example.com/ns
pipeline: main.xpl
inputs:
  source:
    - href: in.xml
    - inline: "<second/>"
  notes:
    - inline: "plain text"
      data: true
      content-type: text/plain
outputs:
  report: reports/out.xml
parameters:
  "*":
    ex:level: "3"
options:
  ex:mode: fast
  plain: "yes"
serialization:
  indent: "true"
`

func TestParseConfig(t *testing.T) {
	fsys := fstest.MapFS{"conf/in.xml": {Data: []byte("<first/>")}}
	cfg, err := xproc.ParseConfig(strings.NewReader(configYAML), "conf/base.yaml", resolver.NewFS(fsys), xmldoc.Codec{})
	require.NoError(t, err)

	require.NotNil(t, cfg.Pipeline)
	assert.Equal(t, "conf/main.xpl", cfg.Pipeline.URI)
	assert.Equal(t, map[string]string{"report": "conf/reports/out.xml"}, cfg.Outputs)
	assert.Equal(t, map[string]string{"indent": "true"}, cfg.Serialization)

	mode := xproc.QName{Prefix: "ex", Namespace: "http://example.com/ns", Local: "mode"}
	assert.Equal(t, "fast", cfg.Options[mode])
	assert.Equal(t, "yes", cfg.Options[xproc.QName{Local: "plain"}])
	level := xproc.QName{Prefix: "ex", Namespace: "http://example.com/ns", Local: "level"}
	assert.Equal(t, "3", cfg.Parameters["*"][level])

	source := cfg.Inputs["source"]
	require.Len(t, source, 2)
	doc, err := source[0].Read(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "<first/>", serialize(t, doc))
	_, err = source[0].Read(t.Context())
	assert.ErrorIs(t, err, io.EOF)

	reopened := source[0].(xproc.Reopener).Reopen()
	doc, err = reopened.Read(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "<first/>", serialize(t, doc))

	doc, err = source[1].Read(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "<second/>", serialize(t, doc))

	doc, err = cfg.Inputs["notes"][0].Read(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "plain text", doc.Root.TextContent())
	assert.Equal(t, "data", doc.Root.Name.Local)
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		code xerrors.Code
	}{
		{name: "unknown field", yaml: "pipelines: x.xpl", code: xerrors.InvalidConfiguration},
		{name: "input without source", yaml: "inputs:\n  source:\n    - data: true", code: xerrors.InvalidConfiguration},
		{name: "unbound option prefix", yaml: "options:\n  ex:mode: fast", code: xerrors.UnboundPrefix},
		{name: "invalid parameter name", yaml: "parameters:\n  '*':\n    '1bad': x", code: xerrors.InvalidConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := xproc.ParseConfig(strings.NewReader(tt.yaml), "", nil, nil)
			assert.True(t, xerrors.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestParseEmptyConfig(t *testing.T) {
	cfg, err := xproc.ParseConfig(strings.NewReader(""), "", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, cfg.Pipeline)
	assert.Empty(t, cfg.Inputs)
}

func TestMergeConfig(t *testing.T) {
	lower := &xproc.BaseConfig{
		Pipeline: xproc.NewURIInput("lower.xpl", xproc.PayloadXML, ""),
		Outputs:  map[string]string{"result": "lower.xml", "log": "log.xml"},
		Options: map[xproc.QName]string{
			{Prefix: "a", Namespace: "urn:x", Local: "mode"}: "lower",
			{Local: "keep"}: "lower",
		},
		Parameters:    map[string]map[xproc.QName]string{"*": {{Local: "p"}: "lower", {Local: "q"}: "lower"}},
		Serialization: map[string]string{"indent": "true"},
	}
	upper := &xproc.BaseConfig{
		Outputs:       map[string]string{"result": "upper.xml"},
		Options:       map[xproc.QName]string{{Prefix: "b", Namespace: "urn:x", Local: "mode"}: "upper"},
		Parameters:    map[string]map[xproc.QName]string{"*": {{Local: "p"}: "upper"}},
		Serialization: map[string]string{"method": "text"},
	}

	merged := xproc.Merge(lower, upper)
	assert.Equal(t, "lower.xpl", merged.Pipeline.URI)
	assert.Equal(t, map[string]string{"result": "upper.xml", "log": "log.xml"}, merged.Outputs)
	assert.Equal(t, map[xproc.QName]string{
		{Prefix: "b", Namespace: "urn:x", Local: "mode"}: "upper",
		{Local: "keep"}: "lower",
	}, merged.Options)
	assert.Equal(t, map[xproc.QName]string{{Local: "p"}: "upper", {Local: "q"}: "lower"}, merged.Parameters["*"])
	assert.Equal(t, map[string]string{"indent": "true", "method": "text"}, merged.Serialization)

	assert.Nil(t, xproc.Merge(nil, nil))
	assert.Equal(t, "lower.xpl", xproc.Merge(lower, nil).Pipeline.URI)
	assert.Equal(t, "lower", lower.Options[xproc.QName{Prefix: "a", Namespace: "urn:x", Local: "mode"}], "inputs are not modified")
}

func TestInvokeWithConfigFile(t *testing.T) {
	fsys := fstest.MapFS{
		"main.xpl": {Data: []byte(twoOutputPipeline)},
		"in.xml":   {Data: []byte("<configured/>")},
	}
	engine := enginetest.New()
	store := newMemStore()
	inv := xproc.New(engine, xproc.WithResolver(resolver.NewFS(fsys)), xproc.WithStore(store))

	req := xproc.NewRequest()
	require.NoError(t, req.SetConfigStream(strings.NewReader(`
pipeline: main.xpl
inputs:
  source:
    - href: in.xml
outputs:
  report: report.xml
options:
  mode: fast
serialization:
  omit-xml-declaration: "true"
`), "base.yaml"))

	got, err := inv.Invoke(t.Context(), "", req, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"result": "<configured/>", "report": ""}, results(t, got))
	require.Contains(t, store.docs, "report.xml")
	assert.Equal(t, "<configured/>", store.docs["report.xml"].String())

	options := engine.LastPipeline().Options()
	require.Len(t, options, 1)
	assert.Equal(t, "mode", options[0].Name.Local)
}

func TestBaseConfigIsReusable(t *testing.T) {
	cfg, err := xproc.ParseConfig(strings.NewReader(`
inputs:
  source:
    - inline: "<shared/>"
`), "", nil, nil)
	require.NoError(t, err)

	engine := enginetest.New()
	inv := xproc.New(engine, xproc.WithBaseConfig(cfg))
	for range 2 {
		req := xproc.NewRequest()
		require.NoError(t, req.SetPipelineStream(strings.NewReader(identityPipeline), "identity.xpl"))
		got, err := inv.Invoke(t.Context(), "", req, nil)
		require.NoError(t, err)
		assert.Equal(t, decl+"<shared/>", got["result"].String())
	}
}

func TestSecondConfigIsDuplicate(t *testing.T) {
	req := xproc.NewRequest()
	require.NoError(t, req.SetConfig("a.yaml"))
	err := req.SetConfigStream(strings.NewReader(""), "b.yaml")
	assert.True(t, xerrors.HasCode(err, xerrors.DuplicateBinding))
}
