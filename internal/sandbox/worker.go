package sandbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"runtime/debug"

	"github.com/cockroachdb/errors"
	"github.com/traefik/yaegi/interp"

	"vizguard/internal/chart"
	"vizguard/internal/dataset"
)

// maxRequestBytes bounds what a worker will read from stdin.
const maxRequestBytes = 256 << 20

// maxStdoutBytes bounds captured snippet output.
const maxStdoutBytes = 64 << 10

// RenderFunc is the entrypoint signature snippets must define.
type RenderFunc = func(*chart.Frame) (*chart.Figure, error)

// RunWorker is the worker process body: one request in, one reply out. All
// failures, panics included, become a reply; the returned error only
// reports a broken output stream.
func RunWorker(in io.Reader, out io.Writer) error {
	var req Request
	if err := json.NewDecoder(io.LimitReader(in, maxRequestBytes)).Decode(&req); err != nil {
		return writeReply(out, runtimeFailure("decode request: %v", err), 0)
	}
	if req.MemoryLimit > 0 {
		debug.SetMemoryLimit(req.MemoryLimit)
	}
	return writeReply(out, serve(&req), req.MaxReply)
}

// ServeStdio runs the worker on the process's standard streams. Stray
// writes to os.Stdout go to stderr so they cannot corrupt the reply.
func ServeStdio() error {
	protocol := os.Stdout
	os.Stdout = os.Stderr
	return RunWorker(os.Stdin, protocol)
}

func serve(req *Request) (reply *Reply) {
	defer func() {
		if r := recover(); r != nil {
			reply = runtimeFailure("panic: %v", r)
		}
	}()

	ds, err := dataset.FromPayload(req.Dataset)
	if err != nil {
		return runtimeFailure("load dataset: %v", err)
	}

	switch req.Mode {
	case ModeSpec:
		figs := make([]*chart.Figure, 0, len(req.Proposals))
		for i, spec := range req.Proposals {
			fig, err := chart.Build(spec, ds)
			if err != nil {
				return runtimeFailure("proposal %d (%s): %v", i, spec.Kind, err)
			}
			if spec.ID != "" {
				fig.ID = spec.ID
			}
			figs = append(figs, fig)
		}
		return &Reply{OK: true, Figures: figs}

	case ModeCode:
		fig, stdout, err := interpret(req.Source, chart.NewFrame(ds))
		if err != nil {
			return &Reply{Kind: KindRuntimeError, Message: err.Error(), Stdout: stdout}
		}
		return &Reply{OK: true, Figures: []*chart.Figure{fig}, Stdout: stdout}
	}
	return runtimeFailure("unknown mode %q", req.Mode)
}

// interpret evaluates an approved snippet and calls its Render.
func interpret(source string, frame *chart.Frame) (fig *chart.Figure, stdout string, err error) {
	var out bytes.Buffer
	captured := &capped{buf: &out, max: maxStdoutBytes}
	defer func() {
		stdout = out.String()
		if r := recover(); r != nil {
			fig, err = nil, errors.Newf("snippet panicked: %v", r)
		}
	}()

	i := interp.New(interp.Options{
		Stdout:               captured,
		Stderr:               captured,
		Env:                  []string{},
		SourcecodeFilesystem: emptyFS{},
	})
	if err := i.Use(Symbols()); err != nil {
		return nil, "", errors.Wrap(err, "load symbols")
	}
	if _, err := i.Eval(source); err != nil {
		return nil, "", errors.Wrap(err, "evaluate snippet")
	}

	v, err := i.Eval("main.Render")
	if err != nil {
		return nil, "", errors.Wrap(err, "Render not defined")
	}
	render, ok := v.Interface().(RenderFunc)
	if !ok {
		return nil, "", errors.Newf("Render has type %s, want func(*chart.Frame) (*chart.Figure, error)", v.Type())
	}

	fig, err = render(frame)
	if err != nil {
		return nil, "", errors.Wrap(err, "Render returned an error")
	}
	if err := fig.Check(); err != nil {
		return nil, "", err
	}
	return fig, "", nil
}

func runtimeFailure(format string, args ...interface{}) *Reply {
	return &Reply{Kind: KindRuntimeError, Message: fmt.Sprintf(format, args...)}
}

func writeReply(out io.Writer, reply *Reply, max int) error {
	data, err := json.Marshal(reply)
	if err != nil {
		data, _ = json.Marshal(runtimeFailure("encode reply: %v", err))
	}
	if max > 0 && len(data) > max {
		data, _ = json.Marshal(runtimeFailure("reply of %d bytes exceeds the %d byte limit", len(data), max))
	}
	_, err = out.Write(data)
	return err
}

// capped keeps the first max bytes written and drops the rest.
type capped struct {
	buf *bytes.Buffer
	max int
}

func (c *capped) Write(p []byte) (int, error) {
	if room := c.max - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

// emptyFS gives the interpreter no source files to import from.
type emptyFS struct{}

func (emptyFS) Open(name string) (fs.File, error) {
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}
