package ui

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zendure-tools/zendure-poller/internal/coordinator"
	"github.com/zendure-tools/zendure-poller/internal/device"
	"github.com/zendure-tools/zendure-poller/internal/sensor"
)

// manualRefreshTimeout bounds a refresh triggered from the keyboard
const manualRefreshTimeout = 30 * time.Second

// Messages for async operations
type snapshotMsg struct {
	snapshot coordinator.Snapshot
	failures int
}

type refreshDoneMsg struct {
	err error
}

// watchKeyMap defines key bindings for the watch screen
type watchKeyMap struct {
	Refresh key.Binding
	Raw     key.Binding
	Quit    key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k watchKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Refresh, k.Raw, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k watchKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Refresh, k.Raw, k.Quit}}
}

func defaultWatchKeys() watchKeyMap {
	return watchKeyMap{
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh now"),
		),
		Raw: key.NewBinding(
			key.WithKeys("k"),
			key.WithHelp("k", "toggle keys"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "esc", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// WatchModel shows the live property map of one coordinator
type WatchModel struct {
	Title string

	source     *coordinator.Coordinator
	translator *sensor.Translator
	updates    <-chan coordinator.Snapshot

	snapshot   coordinator.Snapshot
	failures   int
	refreshing bool
	lastErr    error
	showKeys   bool

	Width   int
	Spinner spinner.Model
	Help    help.Model
	Keys    watchKeyMap
}

// NewWatchModel creates a watch screen for c. updates delivers snapshots as
// they are published; see Subscribe.
func NewWatchModel(title string, c *coordinator.Coordinator, updates <-chan coordinator.Snapshot) WatchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(PrimaryColor)

	return WatchModel{
		Title:      title,
		source:     c,
		translator: sensor.DefaultTranslator(),
		updates:    updates,
		snapshot:   c.Snapshot(),
		failures:   c.ConsecutiveFailures(),
		Width:      GetTerminalWidth(),
		Spinner:    s,
		Help:       help.New(),
		Keys:       defaultWatchKeys(),
	}
}

// Subscribe registers a listener on c that forwards snapshots to the
// returned channel, dropping them when the screen falls behind. Call the
// returned function to unsubscribe.
func Subscribe(c *coordinator.Coordinator) (<-chan coordinator.Snapshot, func()) {
	ch := make(chan coordinator.Snapshot, 4)
	id := c.AddListener(coordinator.ListenerFunc(func(s coordinator.Snapshot) {
		select {
		case ch <- s:
		default:
		}
	}))
	return ch, func() { c.RemoveListener(id) }
}

// Init starts the spinner and waits for the first update
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.Spinner.Tick, m.waitForSnapshot())
}

func (m WatchModel) waitForSnapshot() tea.Cmd {
	if m.updates == nil {
		return nil
	}
	updates, source := m.updates, m.source
	return func() tea.Msg {
		s, ok := <-updates
		if !ok {
			return nil
		}
		return snapshotMsg{snapshot: s, failures: source.ConsecutiveFailures()}
	}
}

func (m WatchModel) refresh() tea.Cmd {
	source := m.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), manualRefreshTimeout)
		defer cancel()
		return refreshDoneMsg{err: source.RefreshNow(ctx)}
	}
}

// Update handles messages and updates the model
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.Keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.Keys.Refresh):
			if m.refreshing {
				return m, nil
			}
			m.refreshing = true
			return m, m.refresh()
		case key.Matches(msg, m.Keys.Raw):
			m.showKeys = !m.showKeys
		}

	case tea.WindowSizeMsg:
		m.Width = clampWidth(msg.Width)
		m.Help.Width = msg.Width

	case snapshotMsg:
		m.snapshot = msg.snapshot
		m.failures = msg.failures
		return m, m.waitForSnapshot()

	case refreshDoneMsg:
		m.refreshing = false
		m.lastErr = msg.err

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the screen
func (m WatchModel) View() string {
	var b strings.Builder

	params := []Param{
		{"Address", m.source.Address()},
		{"Interval", m.source.Interval().String()},
	}
	b.WriteString(RenderHeader(m.Title, "zendure-poller watch", params, m.Width))
	b.WriteString("\n\n")

	b.WriteString(m.statusLine())
	b.WriteString("\n")
	if m.lastErr != nil && !errors.Is(m.lastErr, coordinator.ErrShutdown) {
		b.WriteString(ErrorMessageStyle.Render("  " + errorLine(m.lastErr)))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	names := m.snapshot.Names()
	nameWidth := 0
	labels := make([]string, len(names))
	for i, name := range names {
		labels[i] = m.translator.Translate(name)
		nameWidth = max(nameWidth, lipgloss.Width(labels[i]))
	}
	for i, name := range names {
		line := PropertyNameStyle.Width(nameWidth+4).Render(labels[i]) +
			PropertyValueStyle.Render(FormatValue(m.snapshot.Properties[name]))
		if m.showKeys {
			line += "  " + PropertyKeyStyle.Render(name)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.Help.View(m.Keys))
	b.WriteString("\n")
	return b.String()
}

func (m WatchModel) statusLine() string {
	switch {
	case m.refreshing:
		return "  " + m.Spinner.View() + " Refreshing..."
	case m.snapshot.IsZero():
		return "  " + m.Spinner.View() + " Waiting for first refresh..."
	case m.snapshot.Success:
		return FreshStyle.Render(fmt.Sprintf("  %s Updated %s", SuccessMarker, m.snapshot.FetchedAt.Format("15:04:05")))
	default:
		return StaleStyle.Render(fmt.Sprintf("  %s Stale: %d consecutive failure(s), last attempt %s",
			FailureMarker, m.failures, m.snapshot.FetchedAt.Format("15:04:05")))
	}
}

// errorLine prefixes device errors with their category
func errorLine(err error) string {
	if kind := device.ErrorKind(err); kind != "" {
		return "[" + kind + "] " + device.GetShortErrorMessage(err)
	}
	return err.Error()
}

// FormatValue renders a property value for display. Integral floats print
// without a fraction.
func FormatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return WaitingMarker
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// RunWatch shows the watch screen for c until the user quits or ctx ends
func RunWatch(ctx context.Context, title string, c *coordinator.Coordinator) error {
	updates, unsubscribe := Subscribe(c)
	defer unsubscribe()

	p := tea.NewProgram(NewWatchModel(title, c, updates), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
