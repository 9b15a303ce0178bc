package xproc_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacoelho/xproc"
	xerrors "github.com/jacoelho/xproc/errors"
	"github.com/jacoelho/xproc/internal/enginetest"
	"github.com/jacoelho/xproc/internal/xmldoc"
	"github.com/jacoelho/xproc/resolver"
)

func plan(t *testing.T, inv *xproc.Invoker, req *xproc.Request) *xmldoc.Document {
	t.Helper()
	var buf strings.Builder
	require.NoError(t, inv.Plan(t.Context(), &buf, "file:///work/", req))
	return parseDoc(t, buf.String())
}

func TestSingleStepExposesResult(t *testing.T) {
	req := xproc.NewRequest()
	require.NoError(t, req.AddStep("p:identity"))

	doc := plan(t, xproc.New(nil), req)
	root := doc.Root
	assert.Equal(t, "declare-step", root.Name.Local)
	assert.Equal(t, "1.0", attr(root, "version"))

	inputs := xprocChildren(root, "input")
	require.Len(t, inputs, 2)
	assert.Equal(t, "source", attr(inputs[0], "port"))
	assert.Equal(t, "true", attr(inputs[0], "sequence"))
	assert.Equal(t, "parameters", attr(inputs[1], "port"))
	assert.Equal(t, "parameter", attr(inputs[1], "kind"))

	outputs := xprocChildren(root, "output")
	require.Len(t, outputs, 1)
	assert.Equal(t, "result", attr(outputs[0], "port"))
	pipes := xprocChildren(outputs[0], "pipe")
	require.Len(t, pipes, 1)
	assert.Equal(t, "cmdlineStep1", attr(pipes[0], "step"))
	assert.Equal(t, "result", attr(pipes[0], "port"))

	steps := xprocChildren(root, "identity")
	require.Len(t, steps, 1)
	assert.Equal(t, "cmdlineStep1", attr(steps[0], "name"))
}

func TestSingleStepResultBindsUnnamedOutput(t *testing.T) {
	engine := enginetest.New()
	inv := xproc.New(engine)

	var sink strings.Builder
	req := xproc.NewRequest()
	require.NoError(t, req.AddStep("p:identity"))
	require.NoError(t, req.AddOutputSink("", &sink))

	got, err := inv.Invoke(t.Context(), "", req, track("<doc/>"))
	require.NoError(t, err)

	pl := engine.LastPipeline()
	require.NotNil(t, pl)
	assert.Equal(t, []xproc.OutputPort{{Name: "result", Primary: true}}, pl.Ports().Outputs)
	assert.Equal(t, map[string]string{"result": ""}, results(t, got))
	assert.Equal(t, decl+"<doc/>", sink.String())
}

func TestLastStepFeedsOutputs(t *testing.T) {
	req := xproc.NewRequest()
	require.NoError(t, req.AddNamespace("ex", "http://example.com/steps"))
	req.AddLibrary("file:///work/lib.xpl")
	require.NoError(t, req.AddStep("ex:first"))
	require.NoError(t, req.AddStep("ex:second"))

	doc := plan(t, xproc.New(nil), req)
	outputs := xprocChildren(doc.Root, "output")
	require.Len(t, outputs, 1)
	assert.Equal(t, "result", attr(outputs[0], "port"))
	assert.Equal(t, "cmdlineStep2", attr(xprocChildren(outputs[0], "pipe")[0], "step"))

	imports := xprocChildren(doc.Root, "import")
	require.Len(t, imports, 1)
	assert.Equal(t, "file:///work/lib.xpl", attr(imports[0], "href"))

	first := doc.Root.ElementsNamed("http://example.com/steps", "first")
	second := doc.Root.ElementsNamed("http://example.com/steps", "second")
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, "cmdlineStep1", attr(first[0], "name"))
	assert.Equal(t, "cmdlineStep2", attr(second[0], "name"))
}

func TestNamedOutputsAreSorted(t *testing.T) {
	req := xproc.NewRequest()
	require.NoError(t, req.AddStep("p:identity"))
	require.NoError(t, req.AddOutput("zeta", "z.xml"))
	require.NoError(t, req.AddOutput("", "-"))
	require.NoError(t, req.AddOutput("alpha", "a.xml"))

	doc := plan(t, xproc.New(nil), req)
	var ports []string
	for _, out := range xprocChildren(doc.Root, "output") {
		ports = append(ports, attr(out, "port"))
		if attr(out, "port") == "result" {
			assert.Equal(t, "true", attr(out, "primary"))
		}
	}
	assert.Equal(t, []string{"alpha", "result", "zeta"}, ports)
}

func TestStepInputsOptionsAndParams(t *testing.T) {
	spillDir := t.TempDir()
	inv := xproc.New(nil, xproc.WithSpillDir(spillDir))
	t.Cleanup(func() { _ = inv.Close() })

	req := xproc.NewRequest()
	require.NoError(t, req.AddNamespace("ex", "http://example.com/ns"))
	req.AddInput("", "file:///data/in.xml", xproc.PayloadXML, "")
	req.AddInput("schemas", "p:empty", xproc.PayloadXML, "")
	req.AddInput("data", "file:///data/table.csv", xproc.PayloadData, "text/csv")
	require.NoError(t, req.AddInputStream("extra", strings.NewReader("<extra/>"), "extra.xml", xproc.PayloadXML, "application/xml"))
	require.NoError(t, req.AddParam("ex:mode", "it's"))
	require.NoError(t, req.AddParam("custom@level", "2"))
	require.NoError(t, req.AddStep("p:xslt"))
	require.NoError(t, req.AddOption("ex:flag", "on"))

	doc := plan(t, inv, req)
	step := xprocChildren(doc.Root, "xslt")
	require.Len(t, step, 1)
	flag, ok := step[0].Attr("http://example.com/ns", "flag")
	assert.True(t, ok)
	assert.Equal(t, "on", flag)

	byPort := map[string]*xmldoc.Element{}
	for _, in := range xprocChildren(step[0], "input") {
		byPort[attr(in, "port")] = in
	}
	require.Contains(t, byPort, "source")
	assert.Equal(t, "file:///data/in.xml", attr(xprocChildren(byPort["source"], "document")[0], "href"))
	assert.Len(t, xprocChildren(byPort["schemas"], "empty"), 1)
	data := xprocChildren(byPort["data"], "data")[0]
	assert.Equal(t, "file:///data/table.csv", attr(data, "href"))
	assert.Equal(t, "text/csv", attr(data, "content-type"))

	spilled := attr(xprocChildren(byPort["extra"], "document")[0], "href")
	require.True(t, strings.HasPrefix(spilled, "file:"), spilled)
	p, err := resolver.LocalPath(spilled)
	require.NoError(t, err)
	content, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "<extra/>", string(content))
	assert.Equal(t, ".xml", filepath.Ext(p))

	params := xprocChildren(step[0], "with-param")
	require.Len(t, params, 2)
	assert.Empty(t, attr(params[0], "port"))
	assert.Equal(t, "ex:mode", attr(params[0], "name"))
	assert.Equal(t, "'it''s'", attr(params[0], "select"))
	assert.Equal(t, "custom", attr(params[1], "port"))
	assert.Equal(t, "level", attr(params[1], "name"))
	assert.Equal(t, "'2'", attr(params[1], "select"))

	require.NoError(t, inv.Close())
	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err), "Close removes spilled files")
}

func TestStdinInputIsReferencedAsDash(t *testing.T) {
	req := xproc.NewRequest()
	req.AddStdinInput("", strings.NewReader("<in/>"), xproc.PayloadXML, "")
	require.NoError(t, req.AddStep("p:identity"))

	doc := plan(t, xproc.New(nil), req)
	in := xprocChildren(xprocChildren(doc.Root, "identity")[0], "input")[0]
	assert.Equal(t, "-", attr(xprocChildren(in, "document")[0], "href"))
}

const library = `<p:library xmlns:p="http://www.w3.org/ns/xproc" xmlns:ex="http://example.com/lib">
  <p:declare-step type="ex:main">
    <p:input port="source"/>
    <p:output port="result"/>
  </p:declare-step>
  <p:declare-step type="ex:helper"/>
</p:library>`

func TestSingleLibraryRunsFirstPipeline(t *testing.T) {
	engine := enginetest.New()
	spillDir := t.TempDir()
	inv := xproc.New(engine, xproc.WithSpillDir(spillDir))
	t.Cleanup(func() { _ = inv.Close() })

	req := xproc.NewRequest()
	req.AddLibraryStream(strings.NewReader(library), "lib.xpl")

	doc := plan(t, inv, req)
	steps := doc.Root.ElementsNamed("http://example.com/lib", "main")
	require.Len(t, steps, 1)
	assert.Equal(t, "cmdlineStep1", attr(steps[0], "name"))

	imports := xprocChildren(doc.Root, "import")
	require.Len(t, imports, 1)
	assert.True(t, strings.HasPrefix(attr(imports[0], "href"), "file:"))

	require.Len(t, req.Steps(), 1, "the library pipeline is committed as a step")
	assert.Equal(t, "{http://example.com/lib}main", req.Steps()[0].Type().Clark())
	assert.Equal(t, xproc.InputURI, req.Libraries()[0].Kind)
}

func TestSingleLibraryWithoutPipeline(t *testing.T) {
	inv := xproc.New(enginetest.New(), xproc.WithSpillDir(t.TempDir()))
	t.Cleanup(func() { _ = inv.Close() })

	req := xproc.NewRequest()
	req.AddLibraryStream(strings.NewReader(`<p:library xmlns:p="http://www.w3.org/ns/xproc"/>`), "empty.xpl")
	err := inv.Plan(t.Context(), &strings.Builder{}, "", req)
	assert.True(t, xerrors.HasCode(err, xerrors.InvalidConfiguration), "got %v", err)
}

func TestPlanNeedsSteps(t *testing.T) {
	req := xproc.NewRequest()
	require.NoError(t, req.SetPipeline("main.xpl"))
	err := xproc.New(nil).Plan(t.Context(), &strings.Builder{}, "", req)
	assert.True(t, xerrors.HasCode(err, xerrors.InvalidConfiguration))

	lib := xproc.NewRequest()
	lib.AddLibrary("lib.xpl")
	err = xproc.New(nil).Plan(t.Context(), &strings.Builder{}, "", lib)
	assert.True(t, xerrors.HasCode(err, xerrors.InvalidConfiguration), "a lone library needs an engine")
}

func TestPlanClosesRequestStreams(t *testing.T) {
	config := track("pipeline: main.xpl\n")
	input := track("<in/>")
	req := xproc.NewRequest()
	require.NoError(t, req.SetConfigStream(config, "conf.yaml"))
	require.NoError(t, req.AddInputStream("", input, "in.xml", xproc.PayloadXML, "application/xml"))
	require.NoError(t, req.AddStep("p:identity"))

	inv := xproc.New(nil, xproc.WithSpillDir(t.TempDir()))
	t.Cleanup(func() { inv.Close() })
	plan(t, inv, req)
	assert.True(t, config.closed.Load(), "config stream closed")
	assert.True(t, input.closed.Load(), "spilled input closed")

	failing := track("pipeline: main.xpl\n")
	bad := xproc.NewRequest()
	require.NoError(t, bad.SetConfigStream(failing, "conf.yaml"))
	require.NoError(t, bad.AddStep("ex:unbound"))
	err := inv.Plan(t.Context(), &strings.Builder{}, "", bad)
	assert.True(t, xerrors.HasCode(err, xerrors.UnboundPrefix), "got %v", err)
	assert.True(t, failing.closed.Load(), "streams closed when validation fails")
}
