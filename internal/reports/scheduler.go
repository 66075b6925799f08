package reports

import (
	"context"
	"log"
	"sync"
	"time"
)

// Scheduler periodically generates and persists reports. Stop waits
// for any in-flight generation to finish.
type Scheduler struct {
	generator *Generator
	writer    *Writer
	interval  time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewScheduler creates a scheduler. A nil writer skips persistence.
func NewScheduler(generator *Generator, writer *Writer, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		generator: generator,
		writer:    writer,
		interval:  interval,
	}
}

// Start launches the periodic generation loop.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce()
			}
		}
	}()
}

func (s *Scheduler) runOnce() {
	report := s.generator.GenerateSafetyAssessment(s.interval.Hours())
	if s.writer == nil {
		return
	}
	if path, err := s.writer.Write(report); err != nil {
		log.Printf("reports: failed to persist %s: %v", report.ReportID, err)
	} else {
		log.Printf("reports: wrote %s", path)
	}
}

// Stop halts the loop and waits for in-flight work. Idempotent.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}
