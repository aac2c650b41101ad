package progress

import (
	"fmt"
	"strings"
	"sync/atomic"
)

const stepBarWidth = 30

// StepBar displays denoising-step progress for a sampling run. Set is
// called from the sampler goroutine, String from the render loop.
type StepBar struct {
	message string
	current atomic.Int64
	total   int
}

func NewStepBar(message string, total int) *StepBar {
	return &StepBar{message: message, total: total}
}

func (s *StepBar) Set(current int) {
	s.current.Store(int64(current))
}

func (s *StepBar) String() string {
	current := int(s.current.Load())
	percent := float64(current) / float64(s.total) * 100
	filled := current * stepBarWidth / s.total

	// "generating  50% ▕███            ▏ 50/100"
	return fmt.Sprintf("%s %3.0f%% ▕%s%s▏ %d/%d",
		s.message, percent,
		strings.Repeat("█", filled), strings.Repeat(" ", stepBarWidth-filled),
		current, s.total)
}
