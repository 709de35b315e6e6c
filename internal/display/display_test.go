package display

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/manash/seedgraph/internal/graph"
	"github.com/manash/seedgraph/internal/session"
	"github.com/manash/seedgraph/pkg/models"
)

type fakeFetcher struct {
	data  map[string][]byte
	calls []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	f.calls = append(f.calls, ref)
	data, ok := f.data[ref]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func newFetcher() *fakeFetcher {
	return &fakeFetcher{data: map[string][]byte{
		"outputs/a.png":                    []byte("image a"),
		"outputs/b.png":                    []byte("image b"),
		"outputs/intermediates/000001.png": []byte("preview"),
	}}
}

func TestDisplayer_Show(t *testing.T) {
	var buf bytes.Buffer
	d := New(&buf, newFetcher())

	if err := d.Show(context.Background(), "outputs/a.png"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(buf.String(), "\x1b_G") {
		t.Error("output should contain Kitty escape sequence")
	}
}

func TestDisplayer_Show_NoURL(t *testing.T) {
	var buf bytes.Buffer
	d := New(&buf, newFetcher())

	if err := d.Show(context.Background(), ""); err == nil {
		t.Error("expected error for image with no url")
	}
}

func TestDisplayer_Show_FetchError(t *testing.T) {
	var buf bytes.Buffer
	d := New(&buf, newFetcher())

	if err := d.Show(context.Background(), "outputs/missing.png"); err == nil {
		t.Error("expected error for failed download")
	}
	if buf.Len() != 0 {
		t.Error("nothing should be written when the download fails")
	}
}

func TestDisplayer_ShowAll(t *testing.T) {
	var buf bytes.Buffer
	d := New(&buf, newFetcher())

	if err := d.ShowAll(context.Background(), []string{"outputs/a.png", "outputs/b.png"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n := strings.Count(buf.String(), "\x1b_G"); n != 2 {
		t.Errorf("expected 2 escape sequences, got %d", n)
	}
}

func TestDisplayer_ShowAll_Empty(t *testing.T) {
	var buf bytes.Buffer
	d := New(&buf, newFetcher())

	if err := d.ShowAll(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.Len() != 0 {
		t.Error("expected no output for empty list")
	}
}

func TestDisplayer_PreviewReusesID(t *testing.T) {
	var buf bytes.Buffer
	d := New(&buf, newFetcher())

	if err := d.Preview(context.Background(), "outputs/intermediates/000001.png"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.ClearPreview(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "i=4242") {
		t.Errorf("preview should use the fixed preview id: %q", out)
	}
	if !strings.Contains(out, "a=d,d=I,i=4242") {
		t.Errorf("clear should delete the preview id: %q", out)
	}
}

func TestIsTerminal_NonFile(t *testing.T) {
	if IsTerminal(&bytes.Buffer{}) {
		t.Error("a buffer is not a terminal")
	}
	if got := Width(&bytes.Buffer{}); got != 80 {
		t.Errorf("Width(buffer) = %d, want 80", got)
	}
}

func TestProgressBar_NonTerminalPrintsDeciles(t *testing.T) {
	var buf bytes.Buffer
	bar := NewProgressBar(&buf)

	for step := 1; step <= 50; step++ {
		bar.Update(step, 50)
	}
	bar.Done()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 11 {
		t.Fatalf("got %d lines, want 11: %q", len(lines), buf.String())
	}
	if lines[0] != "step 1/50" {
		t.Errorf("first line = %q", lines[0])
	}
	if lines[len(lines)-1] != "step 50/50" {
		t.Errorf("last line = %q", lines[len(lines)-1])
	}
}

func TestProgressBar_IgnoresZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	bar := NewProgressBar(&buf)
	bar.Update(3, 0)
	if buf.Len() != 0 {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestRenderBar(t *testing.T) {
	tests := []struct {
		step, total, width int
		want               string
	}{
		{0, 10, 24, "[" + strings.Repeat(" ", 17) + "] 0/10"},
		{5, 10, 24, "[" + strings.Repeat("#", 8) + strings.Repeat(" ", 9) + "] 5/10"},
		{10, 10, 24, "[" + strings.Repeat("#", 16) + "] 10/10"},
		{1, 2, 200, "[" + strings.Repeat("#", 25) + strings.Repeat(" ", 25) + "] 1/2"},
	}
	for _, tt := range tests {
		got := renderBar(tt.step, tt.total, tt.width)
		if got != tt.want {
			t.Errorf("renderBar(%d, %d, %d) = %q, want %q", tt.step, tt.total, tt.width, got, tt.want)
		}
	}
}

func TestSessionView(t *testing.T) {
	var buf bytes.Buffer
	fetcher := newFetcher()
	v := NewSessionView(context.Background(), &buf, New(&buf, fetcher), nil)

	v.StateChanged("s1", session.StateStreaming)
	v.Progressed(session.Progress{Step: 1, Total: 10, PreviewURL: "outputs/intermediates/000001.png"})
	v.Progressed(session.Progress{Step: 2, Total: 10, PreviewURL: "outputs/intermediates/000001.png"})
	v.Produced(models.GenerationRecord{
		URL:             "outputs/b.png",
		Seed:            99,
		WithVariations:  "42:0.3",
		VariationAmount: 0.2,
	}, []graph.Edge{{Source: "outputs/a.png", Target: "outputs/b.png", Weight: 0.3}})
	v.Status("upscaling done")
	v.StateChanged("s1", session.StateCompleted)

	out := buf.String()
	for _, want := range []string{
		"Image: outputs/b.png (seed 99)",
		"chain: 42:0.3,99:0.2",
		"derived from outputs/a.png (weight 0.30)",
		"upscaling done",
		"Session completed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	previews := 0
	for _, ref := range fetcher.calls {
		if ref == "outputs/intermediates/000001.png" {
			previews++
		}
	}
	if previews != 1 {
		t.Errorf("preview fetched %d times, want 1", previews)
	}
}

func TestSessionView_WithoutImages(t *testing.T) {
	var buf bytes.Buffer
	v := NewSessionView(context.Background(), &buf, nil, nil)

	v.Produced(models.GenerationRecord{URL: "outputs/a.png", Seed: 42}, nil)
	if strings.Contains(buf.String(), "\x1b_G") {
		t.Error("no escape sequences expected without a displayer")
	}
}

func TestIsTerminalSupported(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		expected bool
	}{
		{
			name:     "no env vars",
			envVars:  map[string]string{},
			expected: false,
		},
		{
			name:     "kitty terminal program",
			envVars:  map[string]string{"TERM_PROGRAM": "kitty"},
			expected: true,
		},
		{
			name:     "wezterm terminal program",
			envVars:  map[string]string{"TERM_PROGRAM": "WezTerm"},
			expected: true,
		},
		{
			name:     "kitty window id",
			envVars:  map[string]string{"KITTY_WINDOW_ID": "123"},
			expected: true,
		},
		{
			name:     "term contains ghostty",
			envVars:  map[string]string{"TERM": "ghostty"},
			expected: true,
		},
		{
			name:     "unsupported terminal",
			envVars:  map[string]string{"TERM_PROGRAM": "gnome-terminal"},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"TERM_PROGRAM", "KITTY_WINDOW_ID", "ITERM_SESSION_ID", "TERM"} {
				t.Setenv(k, "")
				os.Unsetenv(k)
			}
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			if result := IsTerminalSupported(); result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}
