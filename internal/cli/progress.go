package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/floorplan-import/internal/client"
	"github.com/raphaelgruber/floorplan-import/internal/models"
)

const (
	pollInterval = time.Second
	pollTimeout  = 10 * time.Second
)

var (
	stageStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FAFD7"))
	fileStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#D7D7AF"))
	readyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#00D787")).Bold(true)
	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF005F")).Bold(true)
	hintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C")).Italic(true)
)

type pollMsg time.Time

type batchUpdateMsg struct {
	detail *client.BatchDetail
	err    error
}

// progressModel polls a queued batch until analysis stops: the batch is
// awaiting review, finished or failed.
type progressModel struct {
	client   *client.Client
	batchID  string
	total    int
	detail   *client.BatchDetail
	bar      progress.Model
	done     bool
	detached bool
	err      error
}

func newProgressModel(c *client.Client, batchID string, total int) progressModel {
	return progressModel{
		client:  c,
		batchID: batchID,
		total:   total,
		bar:     progress.New(progress.WithDefaultBlend(), progress.WithWidth(40)),
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(m.poll(), m.bar.Init())
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		if k := msg.String(); k == "ctrl+c" || k == "q" {
			m.detached = true
			return m, tea.Quit
		}
	case pollMsg:
		return m, m.poll()
	case batchUpdateMsg:
		return m.apply(msg)
	case progress.FrameMsg:
		var cmd tea.Cmd
		m.bar, cmd = m.bar.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m progressModel) apply(msg batchUpdateMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.done, m.err = true, fmt.Errorf("failed to fetch batch status: %w", msg.err)
		return m, tea.Quit
	}
	m.detail = msg.detail
	switch b := msg.detail.Batch; {
	case b.Status == models.BatchFailed:
		m.done, m.err = true, errors.New(orDash(b.Failure))
		return m, tea.Quit
	case b.Status == models.BatchConfirming || b.Status.IsTerminal():
		m.done = true
		return m, tea.Quit
	}
	return m, tea.Tick(pollInterval, func(t time.Time) tea.Msg { return pollMsg(t) })
}

func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// settled counts items whose analysis has finished either way.
func settled(b *models.ImportBatch) int {
	return b.AnalyzedCount + b.ErrorCount
}

// current names the file being analyzed, if any.
func (m progressModel) current() string {
	for _, it := range m.detail.Items {
		if it.Status() == models.ItemAnalyzing {
			return it.Filename
		}
	}
	return ""
}

func (m progressModel) renderContent() string {
	switch {
	case m.detached:
		return hintStyle.Render(fmt.Sprintf("\nBatch %s keeps analyzing in the background.\nRun 'floorplan follow %s' to watch it.\n",
			m.batchID, m.batchID))
	case m.done:
		return m.summary()
	case m.detail == nil:
		return "Loading batch status...\n"
	}

	b := m.detail.Batch
	total := cmpInt(b.TotalFiles, m.total)
	var frac float64
	if total > 0 {
		frac = float64(settled(b)) / float64(total)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s %d/%d files", stageStyle.Render("["+string(b.Status)+"]"), m.bar.ViewAs(frac), settled(b), total)
	if b.ErrorCount > 0 {
		sb.WriteString(failedStyle.Render(fmt.Sprintf(" (%d failed)", b.ErrorCount)))
	}
	sb.WriteByte('\n')
	if name := m.current(); name != "" {
		sb.WriteString("  analyzing " + fileStyle.Render(name) + "\n")
	}
	sb.WriteString(hintStyle.Render("q or Ctrl+C leaves it running in the background") + "\n")
	return sb.String()
}

func (m progressModel) summary() string {
	if m.err != nil {
		return failedStyle.Render(fmt.Sprintf("\n✗ Analysis failed: %s\n", m.err))
	}
	b := m.detail.Batch

	var sb strings.Builder
	if b.Status == models.BatchConfirming {
		sb.WriteString(readyStyle.Render("✓ Ready for review") + "\n\n")
	} else {
		sb.WriteString(readyStyle.Render("✓ Batch "+string(b.Status)) + "\n\n")
	}
	fmt.Fprintf(&sb, "  Analyzed: %d\n", b.AnalyzedCount)
	if b.ErrorCount > 0 {
		sb.WriteString(failedStyle.Render(fmt.Sprintf("  Failed:   %d", b.ErrorCount)) + "\n")
		for _, it := range m.detail.Items {
			if msg := it.ErrorMessage(); msg != "" {
				fmt.Fprintf(&sb, "    • %s: %s\n", it.Filename, msg)
			}
		}
	}
	if b.Status == models.BatchConfirming {
		fmt.Fprintf(&sb, "\nReview with 'floorplan show %s', then run 'floorplan register %s'.\n", m.batchID, m.batchID)
	}
	return sb.String()
}

// poll fetches the batch off the update loop.
func (m progressModel) poll() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
		defer cancel()
		detail, err := m.client.GetImport(ctx, m.batchID)
		return batchUpdateMsg{detail: detail, err: err}
	}
}

func cmpInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

// RunBatchProgress shows analysis progress for a queued batch. Detaching
// with q or Ctrl+C is not an error; a failed batch is.
func RunBatchProgress(c *client.Client, batchID string, total int) error {
	final, err := tea.NewProgram(newProgressModel(c, batchID, total)).Run()
	if err != nil {
		return fmt.Errorf("progress UI: %w", err)
	}
	if m, ok := final.(progressModel); ok && !m.detached {
		return m.err
	}
	return nil
}
