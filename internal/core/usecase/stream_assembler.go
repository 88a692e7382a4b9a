package usecase

import (
	"context"
	"regexp"

	"github.com/vmelnikau/docqa/internal/core/domain"
	"github.com/vmelnikau/docqa/internal/core/ports"
)

// digitRunPattern matches fragments consisting solely of digits and spaces.
// Such fragments are held rather than emitted so a number split across model
// fragments ("4", "2") reaches the client as one chunk ("42").
var digitRunPattern = regexp.MustCompile(`^[0-9 ]+$`)

// connector fragments keep the hold alive for exactly one fragment, on the
// theory that they join the pieces of a multi-token number or decimal.
func isNumberConnector(fragment string) bool {
	return fragment == " " || fragment == "," || fragment == "."
}

// streamAssembler buffers generation fragments per the digit-holding rule
// and pairs every emitted chunk with the latest known state snapshot.
type streamAssembler struct {
	out      chan<- domain.StreamChunk
	snapshot func() domain.ClientView

	held          string
	connectorHeld bool
}

func newStreamAssembler(out chan<- domain.StreamChunk, snapshot func() domain.ClientView) *streamAssembler {
	return &streamAssembler{out: out, snapshot: snapshot}
}

// consume drains the fragment channel into buffered chunks until the stream
// ends or ctx is cancelled. It returns the concatenation of everything
// received and the first generation error, if any.
func (a *streamAssembler) consume(ctx context.Context, fragments <-chan ports.Fragment) (string, error) {
	full := ""
	for {
		select {
		case <-ctx.Done():
			return full, ctx.Err()
		case fragment, open := <-fragments:
			if !open {
				a.flush(ctx, "")
				return full, nil
			}
			if fragment.Err != nil {
				a.flush(ctx, "")
				return full, fragment.Err
			}
			full += fragment.Text
			a.push(ctx, fragment.Text)
		}
	}
}

func (a *streamAssembler) push(ctx context.Context, fragment string) {
	switch {
	case fragment != "" && digitRunPattern.MatchString(fragment):
		a.held += fragment
		a.connectorHeld = false
	case a.held != "" && !a.connectorHeld && isNumberConnector(fragment):
		a.held += fragment
		a.connectorHeld = true
	default:
		a.flush(ctx, fragment)
	}
}

// flush emits the held buffer concatenated with the breaking fragment as a
// single chunk.
func (a *streamAssembler) flush(ctx context.Context, breaking string) {
	content := a.held + breaking
	a.held = ""
	a.connectorHeld = false
	if content == "" {
		return
	}
	select {
	case <-ctx.Done():
	case a.out <- domain.StreamChunk{Content: content, State: a.snapshot()}:
	}
}
