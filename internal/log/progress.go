package log

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ProgressIndicator provides visual feedback for long-running operations
// such as multi-year backtests.
type ProgressIndicator struct {
	mu           sync.Mutex
	name         string
	total        int
	current      int
	startTime    time.Time
	lastUpdate   time.Time
	spinner      *Spinner
	showSpinner  bool
	showProgress bool
	showETA      bool
}

// Spinner provides rotating visual feedback
type Spinner struct {
	chars    []string
	current  int
	interval time.Duration
	stop     chan bool
	running  bool
	mu       sync.Mutex
}

// ProgressConfig configures progress indicator behavior
type ProgressConfig struct {
	ShowSpinner  bool
	ShowProgress bool
	ShowETA      bool
	SpinnerStyle SpinnerStyle
}

// SpinnerStyle defines different spinner animations
type SpinnerStyle string

const (
	SpinnerDots   SpinnerStyle = "dots"
	SpinnerLine   SpinnerStyle = "line"
	SpinnerBounce SpinnerStyle = "bounce"
)

// NewProgressIndicator creates a new progress indicator
func NewProgressIndicator(name string, total int, config ProgressConfig) *ProgressIndicator {
	pi := &ProgressIndicator{
		name:         name,
		total:        total,
		current:      0,
		startTime:    time.Now(),
		lastUpdate:   time.Now(),
		showSpinner:  config.ShowSpinner,
		showProgress: config.ShowProgress,
		showETA:      config.ShowETA,
	}

	if config.ShowSpinner {
		pi.spinner = NewSpinner(config.SpinnerStyle)
		pi.spinner.Start()
	}

	return pi
}

// NewSpinner creates a new spinner with the specified style
func NewSpinner(style SpinnerStyle) *Spinner {
	s := &Spinner{
		interval: 100 * time.Millisecond,
		stop:     make(chan bool, 1),
	}

	switch style {
	case SpinnerLine:
		s.chars = []string{"-", "\\", "|", "/"}
	case SpinnerBounce:
		s.chars = []string{"▁", "▂", "▃", "▄", "▅", "▆", "▇", "█", "▇", "▆", "▅", "▄", "▃", "▁"}
	default:
		s.chars = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	}

	return s
}

// Start begins the spinner animation
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.running = true
	go s.spin()
}

// Stop terminates the spinner animation
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.running = false
	s.stop <- true
}

// spin runs the spinner animation loop
func (s *Spinner) spin() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.current = (s.current + 1) % len(s.chars)
			s.mu.Unlock()
		}
	}
}

// Current returns the current spinner character
func (s *Spinner) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chars[s.current]
}

// Increment advances progress by one step
func (pi *ProgressIndicator) Increment() {
	pi.Update(pi.current + 1)
}

// Update sets the current progress value
func (pi *ProgressIndicator) Update(current int) {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	pi.current = current
	pi.lastUpdate = time.Now()

	if pi.showProgress || pi.showETA {
		pi.printProgress()
	}
}

// UpdateWithMessage sets progress and displays a custom message
func (pi *ProgressIndicator) UpdateWithMessage(current int, message string) {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	pi.current = current
	pi.lastUpdate = time.Now()
	pi.printProgressWithMessage(message)
}

// Finish completes the progress indicator
func (pi *ProgressIndicator) Finish() {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	if pi.spinner != nil {
		pi.spinner.Stop()
	}

	duration := time.Since(pi.startTime)
	fmt.Printf("\r✅ %s completed (%d items, %v)\n", pi.name, pi.total, duration.Round(time.Millisecond))
}

// FinishWithMessage completes the progress indicator with a custom message
func (pi *ProgressIndicator) FinishWithMessage(message string) {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	if pi.spinner != nil {
		pi.spinner.Stop()
	}

	duration := time.Since(pi.startTime)
	fmt.Printf("\r✅ %s: %s (%v)\n", pi.name, message, duration.Round(time.Millisecond))
}

// Fail marks the progress as failed
func (pi *ProgressIndicator) Fail(reason string) {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	if pi.spinner != nil {
		pi.spinner.Stop()
	}

	duration := time.Since(pi.startTime)
	fmt.Printf("\r❌ %s failed: %s (%v)\n", pi.name, reason, duration.Round(time.Millisecond))
}

// printProgress displays current progress without message
func (pi *ProgressIndicator) printProgress() {
	pi.printProgressWithMessage("")
}

// printProgressWithMessage displays current progress with optional message
func (pi *ProgressIndicator) printProgressWithMessage(message string) {
	var output strings.Builder

	// Clear line and return to beginning
	output.WriteString("\r\033[K")

	if pi.spinner != nil && pi.showSpinner {
		output.WriteString(pi.spinner.Current())
		output.WriteString(" ")
	}

	output.WriteString(pi.name)

	if pi.showProgress && pi.total > 0 {
		percentage := float64(pi.current) / float64(pi.total) * 100
		barWidth := 20
		filled := int(float64(barWidth) * float64(pi.current) / float64(pi.total))

		output.WriteString(" [")
		for i := 0; i < barWidth; i++ {
			if i < filled {
				output.WriteString("█")
			} else {
				output.WriteString("░")
			}
		}
		output.WriteString(fmt.Sprintf("] %d/%d (%.1f%%)", pi.current, pi.total, percentage))
	} else if pi.total > 0 {
		output.WriteString(fmt.Sprintf(" (%d/%d)", pi.current, pi.total))
	}

	if pi.showETA && pi.total > 0 && pi.current > 0 {
		elapsed := time.Since(pi.startTime)
		rate := float64(pi.current) / elapsed.Seconds()
		remaining := pi.total - pi.current
		eta := time.Duration(float64(remaining)/rate) * time.Second

		if eta > time.Hour {
			output.WriteString(fmt.Sprintf(" ETA: %v", eta.Round(time.Minute)))
		} else {
			output.WriteString(fmt.Sprintf(" ETA: %v", eta.Round(time.Second)))
		}
	}

	if message != "" {
		output.WriteString(" - ")
		output.WriteString(message)
	}

	fmt.Print(output.String())
}

// StageLogger provides stage-by-stage progress logging for a rebalance
// run: resolve, score, optimize, book.
type StageLogger struct {
	stages       []string
	currentStage int
	startTime    time.Time
	stageTimes   []time.Duration
	progress     *ProgressIndicator
}

// NewStageLogger creates a new stage logger for a run
func NewStageLogger(name string, stages []string, config ProgressConfig) *StageLogger {
	return &StageLogger{
		stages:       stages,
		currentStage: -1,
		startTime:    time.Now(),
		stageTimes:   make([]time.Duration, len(stages)),
		progress:     NewProgressIndicator(name, len(stages), config),
	}
}

// StartStage begins a new run stage
func (sl *StageLogger) StartStage(stageName string) {
	stageIndex := -1
	for i, stage := range sl.stages {
		if stage == stageName {
			stageIndex = i
			break
		}
	}

	if stageIndex == -1 {
		log.Warn().Str("stage", stageName).Msg("Unknown run stage")
		return
	}

	if sl.currentStage >= 0 {
		sl.stageTimes[sl.currentStage] = time.Since(sl.startTime) - sl.getTotalElapsed()
	}

	sl.currentStage = stageIndex
	sl.progress.UpdateWithMessage(stageIndex+1, stageName)

	log.Info().
		Str("stage", stageName).
		Int("stage_number", stageIndex+1).
		Int("total_stages", len(sl.stages)).
		Msg("Starting run stage")
}

// CompleteStage marks the current stage as completed
func (sl *StageLogger) CompleteStage() {
	if sl.currentStage >= 0 {
		stageDuration := time.Since(sl.startTime) - sl.getTotalElapsed()
		sl.stageTimes[sl.currentStage] = stageDuration

		log.Info().
			Str("stage", sl.stages[sl.currentStage]).
			Dur("duration", stageDuration).
			Msg("Run stage completed")
	}
}

// Finish completes the stage logger
func (sl *StageLogger) Finish() {
	sl.CompleteStage()
	totalDuration := time.Since(sl.startTime)

	sl.progress.FinishWithMessage(fmt.Sprintf("All %d stages completed", len(sl.stages)))

	log.Info().
		Dur("total_duration", totalDuration).
		Msg("Run completed - stage timing summary:")

	for i, stage := range sl.stages {
		if i < len(sl.stageTimes) {
			percentage := float64(sl.stageTimes[i]) / float64(totalDuration) * 100
			log.Info().
				Str("stage", stage).
				Dur("duration", sl.stageTimes[i]).
				Float64("percentage", percentage).
				Msgf("  %d. %s", i+1, stage)
		}
	}
}

// Fail marks the stage logger as failed
func (sl *StageLogger) Fail(reason string) {
	sl.progress.Fail(reason)

	log.Error().
		Str("failed_stage", sl.getCurrentStageName()).
		Int("completed_stages", sl.currentStage).
		Int("total_stages", len(sl.stages)).
		Str("reason", reason).
		Msg("Run failed")
}

// getCurrentStageName returns the name of the current stage
func (sl *StageLogger) getCurrentStageName() string {
	if sl.currentStage >= 0 && sl.currentStage < len(sl.stages) {
		return sl.stages[sl.currentStage]
	}
	return "unknown"
}

// getTotalElapsed returns total time elapsed for completed stages
func (sl *StageLogger) getTotalElapsed() time.Duration {
	var total time.Duration
	for i := 0; i < sl.currentStage; i++ {
		if i < len(sl.stageTimes) {
			total += sl.stageTimes[i]
		}
	}
	return total
}

// DefaultProgressConfig returns default progress indicator configuration
func DefaultProgressConfig() ProgressConfig {
	return ProgressConfig{
		ShowSpinner:  true,
		ShowProgress: true,
		ShowETA:      true,
		SpinnerStyle: SpinnerDots,
	}
}

// QuietProgressConfig returns minimal progress indicator configuration
func QuietProgressConfig() ProgressConfig {
	return ProgressConfig{
		ShowSpinner:  false,
		ShowProgress: false,
		ShowETA:      false,
		SpinnerStyle: SpinnerDots,
	}
}
