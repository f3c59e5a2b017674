package coordinator

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// scheduler picks the delay before the next cycle: a short interval while a
// session is actively charging, a long one otherwise.
type scheduler struct {
	idle     time.Duration
	charging time.Duration
	current  time.Duration
}

func newScheduler(idle, charging time.Duration) *scheduler {
	return &scheduler{idle: idle, charging: charging, current: idle}
}

func (s *scheduler) Update(isCharging bool) {
	next := s.idle
	if isCharging {
		next = s.charging
	}
	if next != s.current {
		s.current = next
		log.Infof("poll interval set to %s (charging=%t)", next, isCharging)
	}
}

func (s *scheduler) Interval() time.Duration {
	return s.current
}
