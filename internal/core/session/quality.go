package session

import (
	"time"

	"golang.org/x/time/rate"

	"meetsync/internal/core/domain"
	"meetsync/internal/core/services"
)

// QualityMonitor turns connection health samples into quality levels and
// throttles how often the local level is broadcast.
type QualityMonitor struct {
	classifier *services.QualityService
	limiter    *rate.Limiter
	last       domain.Quality
}

func NewQualityMonitor(interval time.Duration) *QualityMonitor {
	return &QualityMonitor{
		classifier: services.NewQualityService(),
		limiter:    rate.NewLimiter(rate.Every(interval), 1),
		last:       domain.QualityGood,
	}
}

// Observe classifies h. broadcast is true at most once per interval, judged
// by the sample timestamp rather than wall time.
func (m *QualityMonitor) Observe(h domain.ConnectionHealth, at time.Time) (level domain.Quality, broadcast bool) {
	m.last = m.classifier.Classify(h)
	return m.last, m.limiter.AllowN(at, 1)
}

func (m *QualityMonitor) Last() domain.Quality {
	return m.last
}
