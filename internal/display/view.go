package display

import (
	"context"
	"fmt"
	"io"

	"github.com/manash/seedgraph/internal/graph"
	"github.com/manash/seedgraph/internal/logging"
	"github.com/manash/seedgraph/internal/session"
	"github.com/manash/seedgraph/pkg/models"
)

// SessionView prints a running session: a progress bar, live previews and
// each produced image with the edges it added to the graph.
type SessionView struct {
	ctx  context.Context
	out  io.Writer
	disp *Displayer
	bar  *ProgressBar
	log  *logging.Logger

	lastPreview string
}

var _ session.Observer = (*SessionView)(nil)

// NewSessionView returns a view writing to out. disp may be nil to disable
// inline images.
func NewSessionView(ctx context.Context, out io.Writer, disp *Displayer, log *logging.Logger) *SessionView {
	if log == nil {
		log = logging.Nop()
	}
	return &SessionView{
		ctx:  ctx,
		out:  out,
		disp: disp,
		bar:  NewProgressBar(out),
		log:  log,
	}
}

func (v *SessionView) StateChanged(sessionID string, state session.State) {
	if !state.Terminal() {
		v.log.Debug("session state", "session", sessionID, "state", state.String())
		return
	}
	v.bar.Done()
	v.clearPreview()
	fmt.Fprintf(v.out, "Session %s\n", state)
}

func (v *SessionView) Progressed(p session.Progress) {
	if p.Fraction() == 0 {
		return
	}
	v.bar.Update(p.Step, p.Total)

	if v.disp == nil || p.PreviewURL == "" || p.PreviewURL == v.lastPreview {
		return
	}
	v.lastPreview = p.PreviewURL
	if err := v.disp.Preview(v.ctx, p.PreviewURL); err != nil {
		v.log.Debug("preview unavailable", "url", p.PreviewURL, "error", err)
	}
}

func (v *SessionView) Produced(rec models.GenerationRecord, edges []graph.Edge) {
	v.bar.Done()
	v.clearPreview()

	fmt.Fprintf(v.out, "Image: %s (seed %d)\n", rec.URL, rec.Seed)
	if rec.IsVariation() {
		fmt.Fprintf(v.out, "  chain: %s\n", rec.DisplayChain())
	}
	for _, e := range edges {
		fmt.Fprintf(v.out, "  derived from %s (weight %.2f)\n", e.Source, e.Weight)
	}

	if v.disp != nil {
		if err := v.disp.Show(v.ctx, rec.URL); err != nil {
			v.log.Warn("could not display image", "url", rec.URL, "error", err)
		}
	}
}

func (v *SessionView) Status(msg string) {
	v.bar.Done()
	fmt.Fprintln(v.out, msg)
}

func (v *SessionView) clearPreview() {
	if v.disp == nil || v.lastPreview == "" {
		return
	}
	v.lastPreview = ""
	if err := v.disp.ClearPreview(); err != nil {
		v.log.Debug("failed to clear preview", "error", err)
	}
}
