package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// printer writes human-facing command output. Colors follow the terminal
// capabilities of w; progress lines are rewritten in place only on a TTY.
type printer struct {
	mu  sync.Mutex // progress is called from worker goroutines
	w   io.Writer
	tty bool

	okStyle, failStyle, headStyle, dimStyle lipgloss.Style
}

func newPrinter(w io.Writer) *printer {
	r := lipgloss.NewRenderer(w)
	tty := false
	if f, ok := w.(interface{ Fd() uintptr }); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &printer{
		w:         w,
		tty:       tty,
		okStyle:   r.NewStyle().Foreground(lipgloss.Color("10")),
		failStyle: r.NewStyle().Foreground(lipgloss.Color("9")),
		headStyle: r.NewStyle().Bold(true),
		dimStyle:  r.NewStyle().Faint(true),
	}
}

func (p *printer) ok(format string, args ...any) {
	fmt.Fprintln(p.w, p.okStyle.Render("✓")+" "+fmt.Sprintf(format, args...))
}

func (p *printer) fail(format string, args ...any) {
	fmt.Fprintln(p.w, p.failStyle.Render("✗")+" "+fmt.Sprintf(format, args...))
}

func (p *printer) header(format string, args ...any) {
	fmt.Fprintln(p.w, p.headStyle.Render(fmt.Sprintf(format, args...)))
}

func (p *printer) line(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) dim(format string, args ...any) {
	fmt.Fprintln(p.w, p.dimStyle.Render(fmt.Sprintf(format, args...)))
}

// progress prints every step on a TTY and only every tenth otherwise.
func (p *printer) progress(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tty {
		fmt.Fprintf(p.w, "\rCompleted %d/%d requests", done, total)
		if done == total {
			fmt.Fprintln(p.w)
		}
		return
	}
	if step := max(total/10, 1); done%step == 0 || done == total {
		fmt.Fprintf(p.w, "Completed %d/%d requests\n", done, total)
	}
}
