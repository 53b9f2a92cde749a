package llm

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// ReplaySeparator is the line between responses in a replay file.
const ReplaySeparator = "---"

// replayErrorPrefix marks a response that fails with a ModelError, for
// example "!error rate_limited".
const replayErrorPrefix = "!error "

// Response is one scripted model turn.
type Response struct {
	Text string
	Err  error
}

// Replay serves scripted responses in order and records the prompts it
// was given. Safe for concurrent use; turns are handed out in call order.
type Replay struct {
	mu        sync.Mutex
	responses []Response
	prompts   []string
}

// NewReplay returns a Replay over responses.
func NewReplay(responses ...Response) *Replay {
	return &Replay{responses: responses}
}

// ReplayTexts is NewReplay for text-only scripts.
func ReplayTexts(texts ...string) *Replay {
	rs := make([]Response, len(texts))
	for i, t := range texts {
		rs[i] = Response{Text: t}
	}
	return NewReplay(rs...)
}

// LoadReplay reads a replay file.
func LoadReplay(path string) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open replay %s", path)
	}
	defer f.Close()
	return ParseReplay(f)
}

// ParseReplay splits r on separator lines. A section whose first line is
// "!error <kind>" becomes a ModelError of that kind.
func ParseReplay(r io.Reader) (*Replay, error) {
	var responses []Response
	var section []string
	flush := func() {
		text := strings.Trim(strings.Join(section, "\n"), "\n")
		section = section[:0]
		if strings.HasPrefix(text, replayErrorPrefix) {
			kind := ErrorKind(strings.TrimSpace(strings.TrimPrefix(text, replayErrorPrefix)))
			responses = append(responses, Response{Err: &ModelError{Kind: kind, Err: errors.New("scripted failure")}})
			return
		}
		responses = append(responses, Response{Text: text})
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == ReplaySeparator {
			flush()
			continue
		}
		section = append(section, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read replay")
	}
	if len(section) > 0 {
		flush()
	}
	if len(responses) == 0 {
		return nil, errors.New("replay has no responses")
	}
	return NewReplay(responses...), nil
}

// Generate returns the next scripted response. An exhausted script fails
// with transport_failure.
func (r *Replay) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", AsModelError(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, prompt)
	if len(r.prompts) > len(r.responses) {
		return "", &ModelError{Kind: KindTransportFailure, Err: errors.Newf("replay exhausted after %d responses", len(r.responses))}
	}
	resp := r.responses[len(r.prompts)-1]
	if resp.Err != nil {
		return "", AsModelError(resp.Err)
	}
	return resp.Text, nil
}

// Prompts returns the prompts received so far.
func (r *Replay) Prompts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.prompts...)
}
