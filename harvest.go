package xproc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	xerrors "github.com/jacoelho/xproc/errors"
	"github.com/jacoelho/xproc/internal/xmldoc"
)

type drain struct {
	port   string
	output Output
	buf    *bytes.Buffer
	serial Serialization
}

// harvest drains every bound output port. Ports drain concurrently; each
// port is read in order. Ports bound to a sink or URI are reported with an
// empty buffer, discarded ports are not reported.
func (inv *Invoker) harvest(ctx context.Context, pl Pipeline, table *BindingTable, base *BaseConfig, log *logrus.Entry) (map[string]*bytes.Buffer, error) {
	var configured map[string]string
	if base != nil {
		configured = base.Serialization
	}

	results := make(map[string]*bytes.Buffer, len(table.Outputs))
	drains := make([]drain, 0, len(table.Outputs))
	for _, binding := range table.Outputs {
		d := drain{port: binding.Port, output: binding.Output}
		if s := pl.Serialization(binding.Port); s != nil {
			d.serial = *s
		} else {
			d.serial = xmldoc.SerializationFromOptions(configured)
		}
		if binding.Output.Kind != OutputDiscard {
			d.buf = new(bytes.Buffer)
			results[binding.Port] = d.buf
		}
		drains = append(drains, d)
	}

	var sinkMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if inv.drainLimit > 0 {
		g.SetLimit(inv.drainLimit)
	}
	for _, d := range drains {
		g.Go(func() error {
			return inv.drainPort(gctx, pl, d, &sinkMu, log)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (inv *Invoker) drainPort(ctx context.Context, pl Pipeline, d drain, sinkMu *sync.Mutex, log *logrus.Entry) (err error) {
	pipe, err := pl.ReadFrom(d.port)
	if err != nil {
		return portError(xerrors.Engine, d.port, "read output", err)
	}

	var w io.Writer
	switch d.output.Kind {
	case OutputDefault:
		log.Tracef("Copy output from %s to result buffer", d.port)
		w = d.buf
	case OutputDiscard:
		log.Tracef("Copy output from %s to discard", d.port)
		w = io.Discard
	case OutputSink:
		log.Tracef("Copy output from %s to %T stream", d.port, d.output.Sink)
		w = &lockedWriter{mu: sinkMu, w: d.output.Sink}
	case OutputURI:
		log.Tracef("Copy output from %s to %s", d.port, d.output.URI)
		if inv.store == nil {
			return xerrors.ForPort(xerrors.IO, d.port, "no document store for "+d.output.URI)
		}
		wc, err := inv.store.Create(ctx, d.output.URI)
		if err != nil {
			return portError(xerrors.IO, d.port, "create "+d.output.URI, err)
		}
		defer func() {
			if closeErr := wc.Close(); closeErr != nil && err == nil {
				err = portError(xerrors.IO, d.port, "close "+d.output.URI, closeErr)
			}
		}()
		w = wc
	default:
		return xerrors.ForPort(xerrors.InvalidConfiguration, d.port, fmt.Sprintf("unsupported output kind %s", d.output.Kind))
	}

	for {
		doc, err := pipe.Read(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return portError(xerrors.Engine, d.port, "read output document", err)
		}
		if err := inv.writeDocument(w, doc, d.serial, d.output.Kind == OutputSink); err != nil {
			return portError(xerrors.IO, d.port, "write output document", err)
		}
	}
}

// writeDocument serializes doc to w. Documents for sinks are written in a
// single call so ports sharing a sink do not interleave.
func (inv *Invoker) writeDocument(w io.Writer, doc *Document, s Serialization, whole bool) error {
	if !whole {
		return inv.codec.Write(w, doc, s)
	}
	var buf bytes.Buffer
	if err := inv.codec.Write(&buf, doc, s); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// lockedWriter serializes writes to sinks that several ports may share.
type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}
