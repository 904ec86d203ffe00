package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/Satyacharanv/CodeConversionAI/internal/client"
)

const pollInterval = time.Second

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg triggers polling the job status
type tickMsg time.Time

// jobUpdateMsg carries the updated job data
type jobUpdateMsg struct {
	job *client.Job
	err error
}

// jobFetcher is the part of the client the progress view polls.
type jobFetcher interface {
	GetJob(ctx context.Context, id string) (*client.Job, error)
}

// progressModel is the bubbletea model for migration progress.
type progressModel struct {
	client   jobFetcher
	jobID    string
	job      *client.Job
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

func newProgressModel(c jobFetcher, job *client.Job) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		client:   c,
		jobID:    job.ID,
		job:      job,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial command (start polling).
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			m.done = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchJob()

	case jobUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch job status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}
		if msg.job == nil {
			m.err = fmt.Errorf("job %s no longer exists on the server", m.jobID)
			m.done = true
			return m, tea.Quit
		}

		m.job = msg.job

		switch m.job.Status {
		case "completed":
			m.done = true
			return m, tea.Quit
		case "failed":
			m.done = true
			if m.job.Error != nil {
				m.err = fmt.Errorf("%s", *m.job.Error)
			} else {
				m.err = fmt.Errorf("job failed with unknown error")
			}
			return m, tea.Quit
		}

		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	if m.job == nil {
		return "Loading job status...\n"
	}

	var pct float64
	if m.job.Total > 0 {
		pct = float64(m.job.Progress) / float64(m.job.Total)
	}

	phase := m.job.Phase
	if phase == "" {
		phase = m.job.Status
	}
	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", phase))

	progressBar := m.progress.ViewAs(pct)
	counts := fmt.Sprintf("%d/%d files", m.job.Progress, m.job.Total)

	current := ""
	if m.job.CurrentFile != "" {
		current = "\n" + m.theme.hintStyle().Render(m.job.CurrentFile)
	}

	hint := m.theme.hintStyle().Render("Press Ctrl+C to continue in background")

	return fmt.Sprintf("%s %s %s%s\n%s\n", status, progressBar, counts, current, hint)
}

// finalView renders the completion message.
func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nJob %s continues in background.\nUse 'codeconvert jobs %s' to check status.\n",
			m.jobID, m.jobID)
		return m.theme.hintStyle().Render(msg)
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Migration failed: %s\n", m.err))
	}

	if m.job != nil && m.job.Result != nil {
		r := m.job.Result
		var b strings.Builder
		b.WriteString(m.theme.completedStyle().Render("✓ Completed") + "\n\n")

		migrated := 0
		for _, f := range r.Files {
			if f.Migrated {
				migrated++
			}
		}
		fmt.Fprintf(&b, "  Files:    %d\n", len(r.Files))
		fmt.Fprintf(&b, "  Migrated: %d\n", migrated)
		fmt.Fprintf(&b, "  Copied:   %d\n", len(r.Files)-migrated)
		if s := strings.TrimSpace(r.Summary); s != "" {
			fmt.Fprintf(&b, "\n%s\n", s)
		}
		fmt.Fprintf(&b, "\n  Project zip: %s\n", r.ProjectZipLink)
		return b.String()
	}

	return m.theme.completedStyle().Render("✓ Completed\n")
}

// fetchJob fetches the current job status from the server.
// Runs in a separate goroutine (command) to avoid blocking Update().
func (m progressModel) fetchJob() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		job, err := m.client.GetJob(ctx, m.jobID)
		return jobUpdateMsg{job: job, err: err}
	}
}

// tickCmd returns a command that sends a tick after the poll interval.
func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// RunJobProgress runs the interactive progress UI for a job.
// Returns the final job state on success, nil on Ctrl+C (background) and an
// error on job failure.
func RunJobProgress(c *client.Client, job *client.Job) (*client.Job, error) {
	model := newProgressModel(c, job)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(progressModel); ok {
		// If user quit with Ctrl+C, job continues in background - not an error
		if m.quitting {
			return nil, nil
		}
		if m.err != nil {
			return m.job, m.err
		}
		return m.job, nil
	}

	return nil, nil
}
