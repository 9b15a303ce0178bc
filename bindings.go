package xproc

import (
	"context"
	"errors"
	"io"

	xerrors "github.com/jacoelho/xproc/errors"
	"github.com/jacoelho/xproc/internal/contenttype"
)

// resolveBindings wires the request and base configuration onto the ports
// the pipeline declares. Request bindings win over configuration bindings.
func resolveBindings(ports DeclaredPorts, req *Request, base *BaseConfig) (*BindingTable, error) {
	if base == nil {
		base = &BaseConfig{}
	}

	requested := make(map[string][]*Input)
	for _, port := range req.InputPorts() {
		requested[port] = req.Inputs(port)
	}
	bound := make(map[string]bool, len(requested)+len(base.Inputs))
	for port := range requested {
		bound[port] = true
	}
	for port := range base.Inputs {
		bound[port] = true
	}

	// The unnamed request binding goes to the first primary non-parameter
	// input, in declaration order, that nothing names explicitly.
	if _, ok := requested[""]; ok {
		for _, p := range ports.Inputs {
			if bound[p.Name] || !p.Primary || p.Parameter {
				continue
			}
			requested[p.Name] = requested[""]
			delete(requested, "")
			delete(bound, "")
			bound[p.Name] = true
			break
		}
	}

	for _, port := range sortedKeys(bound) {
		if _, ok := ports.Input(port); ok {
			continue
		}
		if port == "" {
			return nil, xerrors.New(xerrors.UnknownPort, "unnamed input binding but the pipeline declares no unbound primary input port")
		}
		return nil, xerrors.ForPort(xerrors.UnknownPort, port, "input binding for a port the pipeline does not declare")
	}

	table := &BindingTable{}
	defaultAssigned := false
	for _, p := range ports.Inputs {
		if !bound[p.Name] {
			if !defaultAssigned && p.Primary && !p.Parameter {
				table.Inputs = append(table.Inputs, InputBinding{Port: p.Name, Default: true})
				defaultAssigned = true
			}
			continue
		}
		binding := InputBinding{Port: p.Name}
		if inputs, ok := requested[p.Name]; ok {
			for _, in := range inputs {
				if in.Kind == InputURI && in.URI == StdioURI {
					return nil, xerrors.ForPort(xerrors.UnsupportedInput, p.Name, `reading "-" is not supported`)
				}
			}
			binding.Request = inputs
		} else {
			for _, pipe := range base.Inputs[p.Name] {
				if r, ok := pipe.(Reopener); ok {
					pipe = r.Reopen()
				}
				binding.Config = append(binding.Config, pipe)
			}
		}
		table.Inputs = append(table.Inputs, binding)
	}

	for _, port := range sortedKeys(req.outputs) {
		if port == "" {
			continue
		}
		if _, ok := ports.Output(port); !ok {
			return nil, xerrors.ForPort(xerrors.UnknownPort, port, "output binding for a port the pipeline does not declare")
		}
	}

	for _, p := range ports.Outputs {
		out, ok := req.outputs[p.Name]
		if !ok {
			if uri, inConfig := base.Outputs[p.Name]; inConfig {
				out, ok = Output{Kind: OutputURI, URI: uri}, true
			}
		}
		if !ok && p.Primary {
			out, ok = req.outputs[""]
		}
		if !ok {
			out = Output{Kind: OutputDefault}
		}
		table.Outputs = append(table.Outputs, OutputBinding{Port: p.Name, Output: out.normalized()})
	}
	return table, nil
}

// feedInputs writes the bound documents into the pipeline.
func (inv *Invoker) feedInputs(ctx context.Context, pl Pipeline, table *BindingTable, defaultInput io.Reader, res ResourceResolver, staticBaseURI string) error {
	for _, binding := range table.Inputs {
		if binding.Default {
			if defaultInput == nil || pl.HasReadablePipes(binding.Port) {
				continue
			}
			doc, err := inv.codec.Parse(ctx, defaultInput, staticBaseURI)
			if err != nil {
				return portError(xerrors.IO, binding.Port, "parse default input", err)
			}
			if err := pl.WriteTo(binding.Port, doc); err != nil {
				return portError(xerrors.Engine, binding.Port, "write default input", err)
			}
			continue
		}

		pl.ClearInputs(binding.Port)
		for _, in := range binding.Request {
			doc, err := inv.readInput(ctx, in, res, staticBaseURI)
			if err != nil {
				return portError(xerrors.IO, binding.Port, "read input "+in.URI, err)
			}
			if doc == nil {
				continue
			}
			if err := pl.WriteTo(binding.Port, doc); err != nil {
				return portError(xerrors.Engine, binding.Port, "write input", err)
			}
		}
		for _, pipe := range binding.Config {
			for {
				doc, err := pipe.Read(ctx)
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return portError(xerrors.IO, binding.Port, "read configured input", err)
				}
				if err := pl.WriteTo(binding.Port, doc); err != nil {
					return portError(xerrors.Engine, binding.Port, "write configured input", err)
				}
			}
		}
	}
	return nil
}

// readInput parses one request input; p:empty yields no document.
func (inv *Invoker) readInput(ctx context.Context, in *Input, res ResourceResolver, staticBaseURI string) (*Document, error) {
	var (
		rc       io.ReadCloser
		systemID string
	)
	switch in.Kind {
	case InputURI:
		if in.URI == EmptyURI {
			return nil, nil
		}
		var err error
		rc, systemID, err = res.Resolve(ctx, in.URI, staticBaseURI)
		if err != nil {
			return nil, err
		}
	case InputStream:
		rc = in.Take()
		if rc == nil {
			return nil, errors.New("stream already consumed")
		}
		systemID = in.URI
	default:
		return nil, xerrors.Newf(xerrors.UnsupportedInput, "unsupported input kind %s", in.Kind)
	}
	defer rc.Close()

	switch in.Payload {
	case PayloadXML:
		return inv.codec.Parse(ctx, rc, systemID)
	case PayloadData:
		ct := in.ContentType
		var r io.Reader = rc
		if contenttype.NeedsDetection(ct) {
			detected, replay, err := contenttype.Detect(rc, systemID)
			if err != nil {
				return nil, err
			}
			ct, r = detected, replay
		}
		return inv.codec.ParseData(ctx, r, systemID, ct)
	default:
		return nil, xerrors.Newf(xerrors.UnsupportedInput, "unsupported payload kind %s", in.Payload)
	}
}

// portError attaches port context unless err already carries a code.
func portError(code xerrors.Code, port, msg string, err error) error {
	if _, ok := xerrors.CodeOf(err); ok {
		return err
	}
	e := xerrors.Wrap(code, err, msg)
	e.Port = port
	return e
}
