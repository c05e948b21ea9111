package output

import (
	"fmt"
	"sync"
	"time"

	"github.com/tanq16/splitwire/internal/progress"
	"github.com/tanq16/splitwire/internal/utils"
)

// downloadView is the render state of one tracked download.
type downloadView struct {
	ID          int
	Name        string
	Status      string // pending, active, success, error, cancelled
	Message     string
	Progress    progress.Progress
	StartTime   time.Time
	LastUpdated time.Time
}

// Manager renders live download progress for one or more concurrent
// downloads. It is the auto-injected notification surface of the CLI;
// embedders can consume progress.Callback directly instead.
type Manager struct {
	mu            sync.RWMutex
	views         map[int]*downloadView
	order         []int
	nextID        int
	numLines      int
	displayTick   time.Duration
	doneCh        chan struct{}
	displayWg     sync.WaitGroup
	errors        []error
}

func NewManager() *Manager {
	return &Manager{
		views:       make(map[int]*downloadView),
		displayTick: 300 * time.Millisecond,
		doneCh:      make(chan struct{}),
	}
}

// Register adds a download to the display and returns its id.
func (m *Manager) Register(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.views[m.nextID] = &downloadView{
		ID:          m.nextID,
		Name:        name,
		Status:      "pending",
		StartTime:   time.Now(),
		LastUpdated: time.Now(),
	}
	m.order = append(m.order, m.nextID)
	return m.nextID
}

// Callback returns the progress consumer for one download. Terminal
// success ticks flip the view to success.
func (m *Manager) Callback(id int) progress.Callback {
	return func(p progress.Progress) {
		m.mu.Lock()
		defer m.mu.Unlock()
		view, exists := m.views[id]
		if !exists {
			return
		}
		view.Progress = p
		view.LastUpdated = time.Now()
		switch {
		case p.Error != "":
			view.Status = "error"
		case p.Complete:
			view.Status = "success"
		default:
			view.Status = "active"
		}
	}
}

func (m *Manager) Complete(id int, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if view, exists := m.views[id]; exists {
		view.Status = "success"
		view.Message = message
		view.LastUpdated = time.Now()
	}
}

func (m *Manager) Cancelled(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if view, exists := m.views[id]; exists {
		view.Status = "cancelled"
		view.Message = "Cancelled"
		view.LastUpdated = time.Now()
	}
}

func (m *Manager) ReportError(id int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if view, exists := m.views[id]; exists {
		view.Status = "error"
		view.Message = err.Error()
		view.LastUpdated = time.Now()
	}
	m.errors = append(m.errors, err)
}

func (m *Manager) HasErrors() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.errors) > 0
}

func (m *Manager) StartDisplay() {
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.render()
			case <-m.doneCh:
				m.render()
				return
			}
		}
	}()
}

func (m *Manager) StopDisplay() {
	close(m.doneCh)
	m.displayWg.Wait()
	fmt.Println()
}

func (m *Manager) render() {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Rewind over the previous frame
	for i := 0; i < m.numLines; i++ {
		fmt.Print("\033[F\033[K")
	}
	m.numLines = 0

	width := getTerminalWidth()
	for _, id := range m.order {
		view := m.views[id]
		fmt.Println(m.renderLine(view, width))
		m.numLines++
	}
}

func (m *Manager) renderLine(view *downloadView, width int) string {
	name := truncate(view.Name, max(width/3, 16))
	switch view.Status {
	case "success":
		return fmt.Sprintf("%s %s %s", FSuccess(StyleSymbols["pass"]), name, FDebug(utils.FormatBytes(uint64(view.Progress.Loaded))))
	case "error":
		return fmt.Sprintf("%s %s %s", FError(StyleSymbols["fail"]), name, FError(truncate(view.Message, width/2)))
	case "cancelled":
		return fmt.Sprintf("%s %s %s", FWarning(StyleSymbols["warning"]), name, FWarning("cancelled"))
	case "active":
		p := view.Progress
		detail := fmt.Sprintf("%s/%s %s ETA %s",
			utils.FormatBytes(uint64(p.Loaded)),
			utils.FormatBytes(uint64(p.Total)),
			utils.FormatSpeed(p.Loaded, safeElapsed(p)),
			formatETA(p.ETA))
		return fmt.Sprintf("%s %s %s%s", FPending(StyleSymbols["pending"]), name, ProgressBar(p.Percentage, 30), FDebug(detail))
	default:
		return fmt.Sprintf("%s %s %s", FPending(StyleSymbols["dot"]), name, FDebug("waiting"))
	}
}

func safeElapsed(p progress.Progress) float64 {
	if p.Speed <= 0 {
		return 0
	}
	return float64(p.Loaded) / p.Speed
}

func formatETA(eta float64) string {
	if eta <= 0 {
		return "--"
	}
	d := time.Duration(eta * float64(time.Second))
	if d > time.Hour {
		return fmt.Sprintf("%.1fh", d.Hours())
	}
	if d > time.Minute {
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
	return fmt.Sprintf("%.0fs", d.Seconds())
}
