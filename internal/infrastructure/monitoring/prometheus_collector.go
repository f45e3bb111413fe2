package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"meetsync/internal/core/domain"
)

// PrometheusCollector implements the registry and relay metric ports.
type PrometheusCollector struct {
	meetingsCreated     prometheus.Counter
	attendeesAdmitted   prometheus.Counter
	meetingOccupancy    prometheus.Histogram
	admissionsRejected  *prometheus.CounterVec
	hostChanges         *prometheus.CounterVec
	collaboratorUpdates *prometheus.CounterVec
	relayConnections    prometheus.Gauge
	relayFrames         *prometheus.CounterVec
	relayDroppedFrames  *prometheus.CounterVec
}

// NewPrometheusCollector registers every metric on reg. Pass
// prometheus.DefaultRegisterer in binaries and a fresh registry in tests.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		meetingsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetsync_meetings_created_total",
			Help: "Meetings created by the registry",
		}),

		attendeesAdmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetsync_attendees_admitted_total",
			Help: "Attendees admitted to a meeting",
		}),

		meetingOccupancy: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meetsync_meeting_occupancy_on_admit",
			Help:    "Attendee count of a meeting right after an admission",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16, 25, 50},
		}),

		admissionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetsync_admissions_rejected_total",
			Help: "Refused admissions by reason",
		}, []string{"reason"}),

		hostChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetsync_host_changes_total",
			Help: "Host reassignment requests by outcome",
		}, []string{"outcome"}),

		collaboratorUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetsync_collaborator_updates_total",
			Help: "Collaborator list updates by outcome",
		}, []string{"outcome"}),

		relayConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meetsync_relay_connections",
			Help: "Open relay sockets",
		}),

		relayFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetsync_relay_frames_total",
			Help: "Frames relayed by kind and topic",
		}, []string{"kind", "topic"}),

		relayDroppedFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetsync_relay_dropped_frames_total",
			Help: "Frames the relay dropped, by reason",
		}, []string{"reason"}),
	}
}

func (p *PrometheusCollector) RecordMeetingCreated() {
	p.meetingsCreated.Inc()
}

func (p *PrometheusCollector) RecordAttendeeAdmitted(_ domain.MeetingID, current int) {
	p.attendeesAdmitted.Inc()
	p.meetingOccupancy.Observe(float64(current))
}

func (p *PrometheusCollector) RecordAdmissionRejected(reason string) {
	p.admissionsRejected.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) RecordHostChange(outcome string) {
	p.hostChanges.WithLabelValues(outcome).Inc()
}

func (p *PrometheusCollector) RecordCollaboratorUpdate(outcome string) {
	p.collaboratorUpdates.WithLabelValues(outcome).Inc()
}

func (p *PrometheusCollector) RecordConnection(delta int) {
	p.relayConnections.Add(float64(delta))
}

func (p *PrometheusCollector) RecordFrame(kind, topic string) {
	p.relayFrames.WithLabelValues(kind, topic).Inc()
}

func (p *PrometheusCollector) RecordDroppedFrame(reason string) {
	p.relayDroppedFrames.WithLabelValues(reason).Inc()
}
