package display

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

const (
	defaultWidth = 80
	previewID    = 4242
)

// Fetcher downloads an artifact by its server reference.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Displayer renders server artifacts inline with the kitty protocol.
type Displayer struct {
	out     io.Writer
	fetcher Fetcher
	enc     *KittyEncoder
}

func New(out io.Writer, fetcher Fetcher) *Displayer {
	return &Displayer{
		out:     out,
		fetcher: fetcher,
		enc:     NewKittyEncoder(out),
	}
}

// Show downloads ref and prints it as a new image.
func (d *Displayer) Show(ctx context.Context, ref string) error {
	if ref == "" {
		return fmt.Errorf("image has no url")
	}
	data, err := d.fetcher.Fetch(ctx, ref)
	if err != nil {
		return err
	}

	if err := d.enc.Encode(data); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}

	fmt.Fprintln(d.out)
	return nil
}

func (d *Displayer) ShowAll(ctx context.Context, refs []string) error {
	for i, ref := range refs {
		if err := d.Show(ctx, ref); err != nil {
			return fmt.Errorf("failed to display image %d: %w", i, err)
		}
	}
	return nil
}

// Preview replaces the live preview image with ref. Previews are small and
// share one image id.
func (d *Displayer) Preview(ctx context.Context, ref string) error {
	data, err := d.fetcher.Fetch(ctx, ref)
	if err != nil {
		return err
	}
	enc := *d.enc
	enc.Columns = 24
	return enc.Replace(previewID, data)
}

// ClearPreview removes the live preview image.
func (d *Displayer) ClearPreview() error {
	return d.enc.Delete(previewID)
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Width returns the terminal width of w, or 80 when it is not a terminal.
func Width(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return defaultWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return defaultWidth
	}
	return width
}

// IsTerminalSupported reports whether the terminal understands the kitty
// graphics protocol.
func IsTerminalSupported() bool {
	termProgram := strings.ToLower(os.Getenv("TERM_PROGRAM"))
	supportedPrograms := []string{"kitty", "ghostty", "iterm.app", "wezterm"}

	for _, prog := range supportedPrograms {
		if termProgram == prog {
			return true
		}
	}

	if os.Getenv("KITTY_WINDOW_ID") != "" {
		return true
	}

	if os.Getenv("ITERM_SESSION_ID") != "" {
		return true
	}

	term := strings.ToLower(os.Getenv("TERM"))
	return strings.Contains(term, "kitty") || strings.Contains(term, "ghostty")
}
