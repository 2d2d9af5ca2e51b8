package consent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var (
	promptBorderColor = lipgloss.Color("#FFB86C")
	promptTitleColor  = lipgloss.Color("#FF79C6")
	promptLabelColor  = lipgloss.Color("#6272A4")
	promptValueColor  = lipgloss.Color("#F8F8F2")

	promptPanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(promptBorderColor).
				Padding(0, 1)

	promptTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(promptTitleColor)

	promptLabelStyle = lipgloss.NewStyle().
				Foreground(promptLabelColor).
				Width(14)

	promptValueStyle = lipgloss.NewStyle().
				Foreground(promptValueColor).
				Bold(true)
)

// Terminal asks the operator on a terminal. Prompts are serialized; an
// empty answer or EOF counts as a dismissal.
type Terminal struct {
	mu     sync.Mutex
	in     *bufio.Reader
	out    io.Writer
	create CreateFunc
}

// NewTerminal creates a terminal consent reading answers from in.
func NewTerminal(in io.Reader, out io.Writer, create CreateFunc) *Terminal {
	return &Terminal{in: bufio.NewReader(in), out: out, create: create}
}

func (t *Terminal) RequestPermission(ctx context.Context, req PromptRequest) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	title := req.Title
	if title == "" {
		title = "(untitled)"
	}
	panel := renderPrompt(fmt.Sprintf("Allow %s access?", req.Action), [][2]string{
		{"Origin", req.Origin},
		{"Drive", title},
		{"URL", req.URL},
		{"Description", req.Description},
	})
	return t.ask(ctx, panel)
}

func (t *Terminal) CreateModal(ctx context.Context, req ModalRequest) (ModalResult, error) {
	if t.create == nil {
		return ModalResult{}, ErrDismissed
	}

	t.mu.Lock()
	keys := make([]string, 0, len(req.Fields))
	for k := range req.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := [][2]string{{"Origin", req.Origin}}
	for _, k := range keys {
		rows = append(rows, [2]string{k, req.Fields[k]})
	}
	ok, err := t.ask(ctx, renderPrompt(fmt.Sprintf("Confirm %s?", req.Kind), rows))
	t.mu.Unlock()

	if err != nil {
		return ModalResult{}, err
	}
	if !ok {
		return ModalResult{}, ErrDismissed
	}
	return t.create(ctx, req)
}

func (t *Terminal) ask(ctx context.Context, panel string) (bool, error) {
	fmt.Fprintln(t.out, panel)
	fmt.Fprint(t.out, "Approve? [y/n] ")

	answer := make(chan string, 1)
	go func() {
		line, err := t.in.ReadString('\n')
		if err != nil && line == "" {
			close(answer)
			return
		}
		answer <- line
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case line, ok := <-answer:
		if !ok {
			return false, ErrDismissed
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		default:
			return false, ErrDismissed
		}
	}
}

func renderPrompt(title string, rows [][2]string) string {
	lines := []string{promptTitleStyle.Render(title)}
	for _, row := range rows {
		if row[1] == "" {
			continue
		}
		lines = append(lines, promptLabelStyle.Render(row[0])+promptValueStyle.Render(row[1]))
	}
	return promptPanelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
