package ui

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"nearchat/models"
	"nearchat/radar"
)

const (
	// Each terminal cell stands for a cellWidth x cellHeight patch of the
	// radar surface, which keeps rings round on a typical 1:2 font.
	cellWidth  = 8.0
	cellHeight = 16.0

	// DefaultRefreshInterval is how often the view redraws.
	DefaultRefreshInterval = 50 * time.Millisecond

	// labelOffset lifts a peer label above its dot, in surface units.
	labelOffset = 30.0
	chromeRows  = 4
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00D4AA"))

	ringStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3A5F5A"))

	sweepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00D4AA"))

	peerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD166")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EEEEEE"))

	cursorStyle = lipgloss.NewStyle().
			Reverse(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00D4AA")).
			Bold(true)
)

// FriendRequester sends a friend request from senderID to recipientID.
type FriendRequester interface {
	SendRequest(ctx context.Context, recipientID, senderID string) error
}

// Rescanner triggers an immediate search for nearby peers.
type Rescanner interface {
	Refresh(ctx context.Context) error
}

// RadarOptions configures the radar view.
type RadarOptions struct {
	Surface *radar.Surface
	// Start runs once, after the surface has its first size. An error ends
	// the view and is returned from RunRadar.
	Start           func(ctx context.Context) error
	Rescanner       Rescanner
	Requester       FriendRequester
	SelfID          string
	SelfName        string
	Discoverable    bool
	RefreshInterval time.Duration
	Logger          *zap.Logger
}

type cellKind int

const (
	cellEmpty cellKind = iota
	cellRing
	cellSweep
	cellPeer
	cellLabel
)

type cell struct {
	r    rune
	kind cellKind
}

// tapTarget receives the peer the surface dispatches on a tap.
type tapTarget struct {
	peer *models.DiscoveredPeer
}

type tickMsg time.Time

type requestResultMsg struct {
	peer models.DiscoveredPeer
	err  error
}

type startResultMsg struct {
	err error
}

type rescanResultMsg struct {
	err error
}

// RadarModel is the bubbletea model for the radar screen.
type RadarModel struct {
	ctx       context.Context
	surface   *radar.Surface
	requester FriendRequester
	rescanner Rescanner
	start     func(ctx context.Context) error
	logger    *zap.Logger
	tapped    *tapTarget

	started    bool
	rescanning bool
	err        error

	selfID       string
	selfName     string
	discoverable bool
	refresh      time.Duration

	width  int
	height int
	cols   int
	rows   int

	cursorCol int
	cursorRow int
	peerIndex int

	selected  *models.DiscoveredPeer
	sending   bool
	status    string
	statusErr bool
}

// NewRadarModel creates a radar view over surface. The surface's click
// listener is replaced by the view.
func NewRadarModel(ctx context.Context, options RadarOptions) RadarModel {
	refresh := options.RefreshInterval
	if refresh <= 0 {
		refresh = DefaultRefreshInterval
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	target := &tapTarget{}
	options.Surface.SetClickListener(radar.ClickListenerFunc(func(peer models.DiscoveredPeer) {
		target.peer = &peer
	}))

	return RadarModel{
		ctx:          ctx,
		surface:      options.Surface,
		requester:    options.Requester,
		rescanner:    options.Rescanner,
		start:        options.Start,
		logger:       logger,
		tapped:       target,
		selfID:       options.SelfID,
		selfName:     options.SelfName,
		discoverable: options.Discoverable,
		refresh:      refresh,
		peerIndex:    -1,
	}
}

// Init starts the redraw ticker.
func (m RadarModel) Init() tea.Cmd {
	return m.tick()
}

func (m RadarModel) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles input, ticks and request results.
func (m RadarModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		if !m.started {
			m.started = true
			return m, m.runStart()
		}
		return m, nil

	case startResultMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		return m, nil

	case rescanResultMsg:
		m.rescanning = false
		if msg.err != nil {
			m.setStatus(fmt.Sprintf("Rescan failed: %v", msg.err), true)
		} else {
			m.setStatus(fmt.Sprintf("Rescan complete, %d nearby", m.surface.Len()), false)
		}
		return m, nil

	case tickMsg:
		return m, m.tick()

	case requestResultMsg:
		m.sending = false
		if msg.err != nil {
			m.setStatus(fmt.Sprintf("Failed to send request to %s: %v", displayName(msg.peer), msg.err), true)
		} else {
			m.setStatus(fmt.Sprintf("Friend request sent to %s", displayName(msg.peer)), false)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

// SurfaceSize returns the radar surface size for a terminal of cols x rows.
func SurfaceSize(cols, rows int) (float64, float64) {
	return float64(cols) * cellWidth, float64(max(rows-chromeRows, 1)) * cellHeight
}

func (m *RadarModel) resize(width, height int) {
	m.width = width
	m.height = height
	m.cols = width
	m.rows = max(height-chromeRows, 1)
	m.surface.SetSize(SurfaceSize(width, height))
	if m.cursorCol == 0 && m.cursorRow == 0 {
		m.cursorCol = m.cols / 2
		m.cursorRow = m.rows / 2
	}
	m.clampCursor()
}

func (m *RadarModel) clampCursor() {
	m.cursorCol = max(0, min(m.cursorCol, m.cols-1))
	m.cursorRow = max(0, min(m.cursorRow, m.rows-1))
}

func (m *RadarModel) setStatus(status string, isErr bool) {
	m.status = status
	m.statusErr = isErr
}

func (m RadarModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return m, tea.Quit
	}

	if m.selected != nil {
		switch key {
		case "y", "enter":
			peer := *m.selected
			m.selected = nil
			m.sending = true
			m.setStatus(fmt.Sprintf("Sending friend request to %s...", displayName(peer)), false)
			return m, m.sendRequest(peer)
		case "n", "esc":
			m.selected = nil
			m.setStatus("", false)
		}
		return m, nil
	}

	switch key {
	case "q", "esc":
		return m, tea.Quit
	case "up", "k":
		m.cursorRow--
	case "down", "j":
		m.cursorRow++
	case "left", "h":
		m.cursorCol--
	case "right", "l":
		m.cursorCol++
	case "tab":
		m.jumpToNextPeer()
	case "enter", " ":
		m.tap()
	case "r":
		return m.rescan()
	}
	m.clampCursor()
	return m, nil
}

func (m RadarModel) runStart() tea.Cmd {
	if m.start == nil {
		return nil
	}
	ctx := m.ctx
	start := m.start
	return func() tea.Msg {
		return startResultMsg{err: start(ctx)}
	}
}

func (m RadarModel) rescan() (tea.Model, tea.Cmd) {
	if m.rescanner == nil || m.rescanning {
		return m, nil
	}
	m.rescanning = true
	m.setStatus("Scanning for nearby people...", false)

	ctx := m.ctx
	rescanner := m.rescanner
	logger := m.logger
	return m, func() tea.Msg {
		err := rescanner.Refresh(ctx)
		if err != nil {
			logger.Warn("rescan failed", zap.Error(err))
		}
		return rescanResultMsg{err: err}
	}
}

func (m *RadarModel) jumpToNextPeer() {
	peers := m.surface.Frame().Peers
	if len(peers) == 0 {
		m.setStatus("No peers nearby", false)
		return
	}
	m.peerIndex = (m.peerIndex + 1) % len(peers)
	col, row := toCell(peers[m.peerIndex].Position)
	m.cursorCol = col
	m.cursorRow = row
}

func (m *RadarModel) tap() {
	if m.sending {
		return
	}
	x, y := cellCenter(m.cursorCol, m.cursorRow)
	m.tapped.peer = nil
	if !m.surface.Tap(x, y) || m.tapped.peer == nil {
		m.setStatus("No peer there", false)
		return
	}
	peer := *m.tapped.peer
	m.selected = &peer
	m.setStatus(fmt.Sprintf("Send friend request to %s (%s)? [y/n]", displayName(peer), peer.ShareableID), false)
}

func (m RadarModel) sendRequest(peer models.DiscoveredPeer) tea.Cmd {
	ctx := m.ctx
	requester := m.requester
	selfID := m.selfID
	logger := m.logger
	return func() tea.Msg {
		if requester == nil {
			return requestResultMsg{peer: peer, err: fmt.Errorf("friend requests unavailable")}
		}
		err := requester.SendRequest(ctx, peer.UserID, selfID)
		if err != nil {
			logger.Warn("friend request from radar failed", zap.String("recipient", peer.UserID), zap.Error(err))
		}
		return requestResultMsg{peer: peer, err: err}
	}
}

// View renders the radar.
func (m RadarModel) View() string {
	if m.cols == 0 {
		return "Initializing radar..."
	}

	frame := m.surface.Frame()
	var b strings.Builder

	title := fmt.Sprintf("nearchat radar  %s  %d nearby", m.selfName, len(frame.Peers))
	if m.discoverable {
		title += "  (discoverable)"
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")

	grid := renderGrid(frame, m.cols, m.rows)
	for row, line := range grid {
		b.WriteString(m.renderLine(row, line))
		b.WriteString("\n")
	}

	switch {
	case m.status == "":
		b.WriteString(" ")
	case m.statusErr:
		b.WriteString(errorStyle.Render(m.status))
	case strings.HasPrefix(m.status, "Friend request sent"):
		b.WriteString(successStyle.Render(m.status))
	default:
		b.WriteString(m.status)
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("arrows move  tab next peer  enter select  r rescan  q quit"))
	return b.String()
}

func (m RadarModel) renderLine(row int, line []cell) string {
	var b strings.Builder
	start := 0
	for col := 1; col <= len(line); col++ {
		if col < len(line) && line[col].kind == line[start].kind && !m.isCursor(col, row) && !m.isCursor(start, row) {
			continue
		}
		var run strings.Builder
		for _, c := range line[start:col] {
			run.WriteRune(c.r)
		}
		style := styleFor(line[start].kind)
		if m.isCursor(start, row) {
			style = cursorStyle
		}
		b.WriteString(style.Render(run.String()))
		start = col
	}
	return b.String()
}

func (m RadarModel) isCursor(col, row int) bool {
	return col == m.cursorCol && row == m.cursorRow
}

func styleFor(kind cellKind) lipgloss.Style {
	switch kind {
	case cellRing:
		return ringStyle
	case cellSweep:
		return sweepStyle
	case cellPeer:
		return peerStyle
	case cellLabel:
		return labelStyle
	default:
		return lipgloss.NewStyle()
	}
}

func renderGrid(frame radar.Frame, cols, rows int) [][]cell {
	grid := make([][]cell, rows)
	rings := frame.Rings()
	for row := range grid {
		grid[row] = make([]cell, cols)
		for col := range grid[row] {
			grid[row][col] = cell{r: ' '}

			x, y := cellCenter(col, row)
			dx, dy := x-frame.Center.X, y-frame.Center.Y
			dist := math.Hypot(dx, dy)
			if dist > frame.RingRadius+cellHeight/2 {
				continue
			}
			if onSweep(frame.Sweep, dx, dy, dist, frame.RingRadius) {
				grid[row][col] = cell{r: '•', kind: cellSweep}
				continue
			}
			for _, radius := range rings {
				if math.Abs(dist-radius) < cellHeight/2 {
					grid[row][col] = cell{r: '·', kind: cellRing}
					break
				}
			}
		}
	}

	for _, placed := range frame.Peers {
		col, row := toCell(placed.Position)
		if row < 0 || row >= rows || col < 0 || col >= cols {
			continue
		}
		grid[row][col] = cell{r: '●', kind: cellPeer}

		labelRow := int(math.Floor((placed.Position.Y - labelOffset) / cellHeight))
		if labelRow < 0 || labelRow >= rows {
			continue
		}
		label := []rune(displayName(placed.Peer))
		startCol := col - len(label)/2
		for i, r := range label {
			c := startCol + i
			if c < 0 || c >= cols || grid[labelRow][c].kind == cellPeer {
				continue
			}
			grid[labelRow][c] = cell{r: r, kind: cellLabel}
		}
	}
	return grid
}

// onSweep reports whether a point lies on the sweep line, which spans from
// the center to the outer ring at the sweep angle.
func onSweep(sweep, dx, dy, dist, radius float64) bool {
	if dist > radius || dist < cellWidth {
		return false
	}
	angle := math.Atan2(dy, dx) * 180 / math.Pi
	if angle < 0 {
		angle += 360
	}
	diff := math.Abs(angle - sweep)
	if diff > 180 {
		diff = 360 - diff
	}
	return diff*math.Pi/180*dist < cellWidth/2
}

func cellCenter(col, row int) (float64, float64) {
	return (float64(col) + 0.5) * cellWidth, (float64(row) + 0.5) * cellHeight
}

func toCell(position models.RadarPosition) (int, int) {
	return int(math.Floor(position.X / cellWidth)), int(math.Floor(position.Y / cellHeight))
}

func displayName(peer models.DiscoveredPeer) string {
	if strings.TrimSpace(peer.DisplayName) != "" {
		return peer.DisplayName
	}
	if peer.ShareableID != "" {
		return peer.ShareableID
	}
	return peer.UserID
}

// RunRadar shows the radar until the user quits or ctx is cancelled.
func RunRadar(ctx context.Context, options RadarOptions) error {
	model := NewRadarModel(ctx, options)
	program := tea.NewProgram(model, tea.WithAltScreen())

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			program.Quit()
		case <-stop:
		}
	}()

	final, err := program.Run()
	if err != nil {
		return fmt.Errorf("run radar view: %w", err)
	}
	if m, ok := final.(RadarModel); ok && m.err != nil {
		return m.err
	}
	return nil
}
