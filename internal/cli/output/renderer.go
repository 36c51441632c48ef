// Package output renders CLI results in terminal, markdown, and JSON modes.
//
// The renderer auto-detects its environment: an interactive terminal gets
// styled text, a pipe gets markdown (agent- and CI-friendly), and --output
// json forces machine-readable output.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// Mode selects the output format.
type Mode string

const (
	// ModeAuto picks text for terminals and markdown for pipes.
	ModeAuto Mode = "auto"
	// ModeText is styled terminal output.
	ModeText Mode = "text"
	// ModeMarkdown is plain markdown output.
	ModeMarkdown Mode = "markdown"
	// ModeJSON is machine-readable JSON output.
	ModeJSON Mode = "json"
)

// Renderer writes command output in the selected mode.
type Renderer struct {
	out    io.Writer
	errOut io.Writer
	mode   Mode
	styles *Styles
}

// NewRenderer creates a renderer for the given writers and mode.
// An empty or unknown mode falls back to ModeAuto.
func NewRenderer(out, errOut io.Writer, mode Mode) *Renderer {
	switch mode {
	case ModeText, ModeMarkdown, ModeJSON, ModeAuto:
	default:
		mode = ModeAuto
	}
	return &Renderer{
		out:    out,
		errOut: errOut,
		mode:   mode,
		styles: newStyles(),
	}
}

// EffectiveMode resolves ModeAuto against the output destination.
func (r *Renderer) EffectiveMode() Mode {
	if r.mode != ModeAuto {
		return r.mode
	}
	if f, ok := r.out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return ModeText
	}
	return ModeMarkdown
}

// Styles returns the style set for direct rendering.
func (r *Renderer) Styles() *Styles {
	return r.styles
}

// Println writes a line to the output writer.
func (r *Renderer) Println(s string) {
	fmt.Fprintln(r.out, s)
}

// Printf writes formatted text to the output writer.
func (r *Renderer) Printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

// JSON writes v as indented JSON.
func (r *Renderer) JSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// JSONLine writes v as a single compact JSON line, for streaming events.
func (r *Renderer) JSONLine(v any) error {
	return json.NewEncoder(r.out).Encode(v)
}

// Header writes a styled or markdown header depending on mode.
func (r *Renderer) Header(level int, text string) {
	if r.EffectiveMode() == ModeMarkdown {
		r.Println(FormatHeader(level, text))
		return
	}
	style := r.styles.Header1
	if level > 1 {
		style = r.styles.Header2
	}
	r.Println(style.Render(text))
}

// Muted writes de-emphasized text.
func (r *Renderer) Muted(text string) {
	if r.EffectiveMode() == ModeMarkdown {
		r.Println(text)
		return
	}
	r.Println(r.styles.Muted.Render(text))
}

// Success writes a success line with a check marker in text mode.
func (r *Renderer) Success(text string) {
	if r.EffectiveMode() == ModeMarkdown {
		r.Println("- [x] " + text)
		return
	}
	r.Println(r.styles.StatusSuccess.String() + " " + text)
}

// Warning writes a warning line to stderr.
func (r *Renderer) Warning(text string) {
	if r.EffectiveMode() == ModeMarkdown {
		fmt.Fprintln(r.errOut, "> **Warning:** "+text)
		return
	}
	fmt.Fprintln(r.errOut, r.styles.Warning.Render("! "+text))
}

// Error writes an error line to stderr.
func (r *Renderer) Error(text string) {
	if r.EffectiveMode() == ModeMarkdown {
		fmt.Fprintln(r.errOut, "> **Error:** "+text)
		return
	}
	fmt.Fprintln(r.errOut, r.styles.Error.Render("x "+text))
}

// StatusLine writes a "name: status (detail)" line with a status marker.
func (r *Renderer) StatusLine(name, status, detail string) {
	marker := r.styles.StatusSuccess.String()
	switch status {
	case "warn":
		marker = r.styles.Warning.Render("!")
	case "error", "failed":
		marker = r.styles.StatusFailed.String()
	}
	line := fmt.Sprintf("%s %s", marker, name)
	if detail != "" {
		line += " " + r.styles.Muted.Render("("+detail+")")
	}
	r.Println(line)
}

// FormatHeader renders a markdown header of the given level.
func FormatHeader(level int, text string) string {
	prefix := ""
	for i := 0; i < level; i++ {
		prefix += "#"
	}
	return prefix + " " + text
}

// FormatKeyValue renders a markdown bold key/value line.
func FormatKeyValue(key, value string) string {
	return fmt.Sprintf("- **%s**: %s", key, value)
}
