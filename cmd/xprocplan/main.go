package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jacoelho/xproc"
	xerrors "github.com/jacoelho/xproc/errors"
)

func main() {
	os.Exit(run())
}

func run() int {
	return runWithArgs(os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
}

// repeated collects every occurrence of a flag.
type repeated []string

func (r *repeated) String() string { return strings.Join(*r, ",") }

func (r *repeated) Set(v string) error {
	*r = append(*r, v)
	return nil
}

func runWithArgs(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("xprocplan", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var inputs, dataInputs, outputs, params, bindings, libraries repeated
	fs.Var(&inputs, "i", "bind an input port: [port=]uri; uri - reads standard input")
	fs.Var(&dataInputs, "d", "bind a non-XML input port: [port=][content-type@]uri")
	fs.Var(&outputs, "o", "bind an output port: [port=]uri")
	fs.Var(&params, "p", "set a parameter: [port@]name=value")
	fs.Var(&bindings, "b", "bind a namespace prefix: prefix=uri")
	fs.Var(&libraries, "l", "import a pipeline library")
	baseURI := fs.String("base", "", "base URI for relative references")
	debug := fs.Bool("debug", false, "log at debug level")
	var usageErr error
	fs.Usage = func() {
		usageErr = errors.Join(
			usageErr,
			writef(stderr, "Usage: %s [options] step [name=value]... [step [name=value]...]\n\n", fs.Name()),
			writeln(stderr, "Prints the pipeline that runs the given steps in order."),
			writeln(stderr),
			writeln(stderr, "Options:"),
		)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger := logrus.New()
	logger.SetOutput(stderr)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	if *debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	if len(fs.Args()) == 0 && len(libraries) == 0 {
		if err := writeln(stderr, "error: at least one step or library is required"); err != nil {
			return 1
		}
		fs.Usage()
		if usageErr != nil {
			return 1
		}
		return 2
	}

	req := xproc.NewRequest()
	defer req.Close()
	req.SetDebug(*debug)
	if err := build(req, stdin, *baseURI, bindings, libraries, inputs, dataInputs, outputs, params, fs.Args()); err != nil {
		logger.WithError(err).Error("invalid arguments")
		if xerrors.HasCode(err, xerrors.InvalidConfiguration) || xerrors.HasCode(err, xerrors.DuplicateBinding) {
			return 2
		}
		return 1
	}

	inv := xproc.New(nil, xproc.WithLogger(logger))
	defer func() {
		if err := inv.Close(); err != nil {
			logger.WithError(err).Warn("remove temporary files")
		}
	}()
	if err := inv.Plan(context.Background(), stdout, *baseURI, req); err != nil {
		logger.WithError(err).Error("plan failed")
		return 1
	}
	if err := writeln(stdout); err != nil {
		return 1
	}
	return 0
}

func build(req *xproc.Request, stdin io.Reader, baseURI string, bindings, libraries, inputs, dataInputs, outputs, params repeated, args []string) error {
	if err := req.SetBaseURI(baseURI); err != nil {
		return err
	}
	for _, b := range bindings {
		prefix, uri, ok := strings.Cut(b, "=")
		if !ok {
			return xerrors.Newf(xerrors.InvalidConfiguration, "namespace binding %q is not prefix=uri", b)
		}
		if err := req.AddNamespace(prefix, uri); err != nil {
			return err
		}
	}
	for _, lib := range libraries {
		req.AddLibrary(lib)
	}
	for _, in := range inputs {
		port, uri := splitPort(in)
		if uri == xproc.StdioURI {
			req.AddStdinInput(port, stdin, xproc.PayloadXML, "")
			continue
		}
		req.AddInput(port, uri, xproc.PayloadXML, "")
	}
	for _, in := range dataInputs {
		port, uri := splitPort(in)
		contentType := ""
		if ct, rest, ok := strings.Cut(uri, "@"); ok && strings.Contains(ct, "/") {
			contentType, uri = ct, rest
		}
		req.AddInput(port, uri, xproc.PayloadData, contentType)
	}
	for _, out := range outputs {
		port, uri := splitPort(out)
		if err := req.AddOutput(port, uri); err != nil {
			return err
		}
	}
	for _, p := range params {
		name, value, ok := strings.Cut(p, "=")
		if !ok {
			return xerrors.Newf(xerrors.InvalidConfiguration, "parameter %q is not name=value", p)
		}
		if err := req.AddParam(name, value); err != nil {
			return err
		}
	}
	for _, arg := range args {
		if name, value, ok := strings.Cut(arg, "="); ok {
			if err := req.AddOption(name, value); err != nil {
				return err
			}
			continue
		}
		if err := req.AddStep(arg); err != nil {
			return err
		}
	}
	return req.CheckArgs()
}

// splitPort splits port=uri; a value without a port binds the primary port.
func splitPort(v string) (port, uri string) {
	port, uri, ok := strings.Cut(v, "=")
	if !ok || strings.Contains(port, ":") || strings.Contains(port, "/") {
		return "", v
	}
	return port, uri
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func writeln(w io.Writer, args ...any) error {
	_, err := fmt.Fprintln(w, args...)
	return err
}
