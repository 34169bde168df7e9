package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/muesli/reflow/truncate"
	"golang.org/x/term"

	"github.com/lvcoi/dgetmusic/internal/app"
	"github.com/lvcoi/dgetmusic/internal/resolver"
	"github.com/lvcoi/dgetmusic/internal/tui"
)

// Printer writes results to out and status lines to errOut, so that stdout
// stays pipeable.
type Printer struct {
	out        io.Writer
	errOut     io.Writer
	quiet      bool
	color      bool
	columns    int
	titleWidth int
}

func newPrinter(out, errOut io.Writer, quiet bool) *Printer {
	columns := terminalColumns()
	if columns <= 0 {
		columns = 100
	}

	titleWidth := columns - 44
	if titleWidth < 20 {
		titleWidth = 20
	}
	if titleWidth > 60 {
		titleWidth = 60
	}

	return &Printer{
		out:        out,
		errOut:     errOut,
		quiet:      quiet,
		color:      errOut == io.Writer(os.Stderr) && supportsColor(),
		columns:    columns,
		titleWidth: titleWidth,
	}
}

// Candidates prints one numbered row per candidate.
func (p *Printer) Candidates(candidates []resolver.Candidate) {
	width := len(strconv.Itoa(len(candidates)))
	for i, c := range candidates {
		fmt.Fprintf(p.out, "%*d  %s  %-*s  %s\n",
			width, i+1,
			padLeft(tui.FormatDuration(c), 8),
			p.titleWidth, truncateText(c.Title, p.titleWidth),
			c.CanonicalURL,
		)
	}
}

// Stream prints the audio URL (or transcoded file) on stdout and the details
// on stderr.
func (p *Printer) Stream(stream resolver.StreamResult) {
	if path, ok := stream.FilePath.Get(); ok {
		fmt.Fprintln(p.out, path)
	} else {
		fmt.Fprintln(p.out, stream.AudioURL.OrEmpty())
	}
	if p.quiet {
		return
	}
	tier := stream.Tier.OrElse(resolver.TierNone)
	fmt.Fprintf(p.errOut, "%s %s (access: %s)\n", p.colorize("OK", colorGreen), stream.Title.OrElse("Untitled"), tier)
	if stream.StoredCredentialUsed {
		fmt.Fprintln(p.errOut, p.colorize("note:", colorYellow), "the operator's stored credential was used to access this media")
	}
}

func (p *Printer) Message(msg string) {
	if msg == "" {
		return
	}
	fmt.Fprintln(p.errOut, msg)
}

func (p *Printer) Prefix(index, total int, title string) string {
	if total <= 0 {
		total = 1
	}
	width := len(strconv.Itoa(total))
	idx := fmt.Sprintf("%*d/%d", width, index, total)
	return fmt.Sprintf("[%s] %-*s", idx, p.titleWidth, truncateText(title, p.titleWidth))
}

func (p *Printer) ItemResult(prefix string, result app.Result) {
	if result.Err == nil && p.quiet {
		return
	}

	statusText := "OK"
	statusColor := colorGreen
	detail := result.URL
	if result.Stream != nil {
		if path, ok := result.Stream.FilePath.Get(); ok {
			detail = path
		}
		if tier, ok := result.Stream.Tier.Get(); ok && tier != resolver.TierNone {
			detail = fmt.Sprintf("%s (%s credential)", detail, tier)
			statusColor = colorYellow
		}
	}
	if result.Err != nil {
		statusText = "FAIL"
		statusColor = colorRed
		detail = result.Message
	}

	maxDetail := p.columns - len(prefix) - len(statusText) - 3
	if maxDetail < 0 {
		maxDetail = 0
	}
	fmt.Fprintf(p.errOut, "%s %s %s\n", prefix, p.colorize(statusText, statusColor), truncateText(detail, maxDetail))
}

func (p *Printer) Summary(total, ok, failed int) {
	if p.quiet {
		return
	}
	fmt.Fprintf(p.errOut, "Summary: %s %d | %s %d | TOTAL %d\n",
		p.colorize("OK", colorGreen), ok, p.colorize("FAIL", colorRed), failed, total)
}

// JSON writes v to stdout as one JSON document.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func (p *Printer) colorize(text, color string) string {
	if !p.color || color == "" {
		return text
	}
	return color + text + colorReset
}

func padLeft(value string, width int) string {
	if len(value) >= width {
		return value
	}
	return strings.Repeat(" ", width-len(value)) + value
}

func truncateText(text string, max int) string {
	if max <= 0 {
		return text
	}
	return truncate.StringWithTail(text, uint(max), "...")
}

func terminalColumns() int {
	if w, _, err := term.GetSize(int(os.Stderr.Fd())); err == nil && w > 0 {
		return w
	}
	if columns := os.Getenv("COLUMNS"); columns != "" {
		if val, err := strconv.Atoi(columns); err == nil && val > 0 {
			return val
		}
	}
	return 0
}

func supportsColor() bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" || os.Getenv("CLICOLOR_FORCE") != "" {
		return true
	}
	if os.Getenv("CLICOLOR") == "0" {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}

const (
	colorReset  = "\x1b[0m"
	colorGreen  = "\x1b[32m"
	colorRed    = "\x1b[31m"
	colorYellow = "\x1b[33m"
)
