package services

import "meetsync/internal/core/domain"

type qualityThreshold struct {
	minDownlinkKbps int
	minUplinkKbps   int
	maxLosses       int // losses at or above this fall below the level
}

// QualityService classifies connection health samples.
type QualityService struct {
	fair qualityThreshold
	good qualityThreshold
}

func NewQualityService() *QualityService {
	return &QualityService{
		fair: qualityThreshold{minDownlinkKbps: 500, minUplinkKbps: 200, maxLosses: 3},
		good: qualityThreshold{minDownlinkKbps: 1000, minUplinkKbps: 500, maxLosses: 1},
	}
}

// Classify returns bad below the fair threshold, fair below the good
// threshold and good otherwise.
func (qs *QualityService) Classify(h domain.ConnectionHealth) domain.Quality {
	switch {
	case !meets(h, qs.fair):
		return domain.QualityBad
	case !meets(h, qs.good):
		return domain.QualityFair
	default:
		return domain.QualityGood
	}
}

func meets(h domain.ConnectionHealth, t qualityThreshold) bool {
	return h.DownlinkKbps >= t.minDownlinkKbps &&
		h.UplinkKbps >= t.minUplinkKbps &&
		h.ConsecutiveLosses < t.maxLosses
}
