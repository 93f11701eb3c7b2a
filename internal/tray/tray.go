// Package tray shows the monitoring status in the system tray.
package tray

import (
	"fmt"
	"sync"
	"time"

	"github.com/getlantern/systray"
)

const appTitle = "DrowsyGuard"

// Tray is the system tray menu. Status setters may be called before the
// tray is ready; the latest values are shown once it is.
type Tray struct {
	onToggle    func(enabled bool)
	onDashboard func()
	onQuit      func()
	enabled     bool
	drowsy      bool
	closed      int
	lastAlert   time.Time
	mu          sync.RWMutex

	menuToggle    *systray.MenuItem
	menuStatus    *systray.MenuItem
	menuClosed    *systray.MenuItem
	menuLastAlert *systray.MenuItem
}

// New creates a new Tray with monitoring enabled.
func New() *Tray {
	return &Tray{
		enabled: true,
	}
}

// OnToggle sets the callback run when monitoring is switched on or off.
func (t *Tray) OnToggle(fn func(enabled bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnDashboard sets the callback run when the dashboard item is clicked.
func (t *Tray) OnDashboard(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDashboard = fn
}

// OnQuit sets the callback run when quit is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray. It blocks until Quit is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, func() {})
}

// Quit removes the tray icon and makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTooltip("DrowsyGuard drowsiness monitor")

	t.mu.Lock()
	t.menuStatus = systray.AddMenuItem("", "Current status")
	t.menuStatus.Disable()
	t.menuClosed = systray.AddMenuItem("", "Consecutive closed-eye frames")
	t.menuClosed.Disable()
	t.menuLastAlert = systray.AddMenuItem("", "Time of the last alert")
	t.menuLastAlert.Disable()
	systray.AddSeparator()

	t.menuToggle = systray.AddMenuItem("", "Pause or resume monitoring")
	systray.AddSeparator()
	t.refresh()
	t.mu.Unlock()

	menuDashboard := systray.AddMenuItem("Open Dashboard...", "Open the dashboard in a browser")
	menuQuit := systray.AddMenuItem("Quit", "Quit DrowsyGuard")

	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuDashboard.ClickedCh:
				t.mu.RLock()
				callback := t.onDashboard
				t.mu.RUnlock()
				if callback != nil {
					callback()
				}
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

// refresh redraws every item. Callers hold t.mu.
func (t *Tray) refresh() {
	if t.menuStatus == nil {
		return
	}

	title := appTitle
	if t.drowsy {
		title = "⚠ " + appTitle
	}
	systray.SetTitle(title)

	t.menuStatus.SetTitle(statusLabel(t.drowsy))
	t.menuClosed.SetTitle(fmt.Sprintf("Closed frames: %d", t.closed))
	t.menuLastAlert.SetTitle(lastAlertLabel(t.lastAlert))
	t.menuToggle.SetTitle(toggleLabel(t.enabled))
}

func statusLabel(drowsy bool) string {
	if drowsy {
		return "Status: DROWSY"
	}
	return "Status: Alert"
}

func lastAlertLabel(at time.Time) string {
	if at.IsZero() {
		return "Last alert: none"
	}
	return "Last alert: " + at.Format("15:04:05")
}

func toggleLabel(enabled bool) string {
	if enabled {
		return "● Monitoring"
	}
	return "○ Paused"
}

func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.enabled = !t.enabled
	enabled := t.enabled
	t.refresh()
	callback := t.onToggle
	t.mu.Unlock()

	if callback != nil {
		callback(enabled)
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetDrowsy updates the status line.
func (t *Tray) SetDrowsy(drowsy bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.drowsy = drowsy
	t.refresh()
}

// SetClosedFrames updates the closed frame counter.
func (t *Tray) SetClosedFrames(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = n
	t.refresh()
}

// SetLastAlert updates the last alert time.
func (t *Tray) SetLastAlert(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastAlert = at
	t.refresh()
}

// IsEnabled returns the current enabled state.
func (t *Tray) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}
