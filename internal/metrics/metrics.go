// Package metrics exposes Prometheus counters for the reminder pipeline.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	prometheus.MustRegister(
		usersRegistered,
		remindersSent,
		remindersFailed,
		countsRecorded,
		invalidChoices,
	)
}

var (
	usersRegistered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "repbot_users_registered_total",
		Help: "Successful /start registrations (including idempotent repeats).",
	})

	remindersSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "repbot_reminders_sent_total",
		Help: "Reminder prompts delivered, per slot.",
	}, []string{"slot"})

	remindersFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "repbot_reminders_failed_total",
		Help: "Reminder prompts that exhausted dispatch retries, per slot.",
	}, []string{"slot"})

	countsRecorded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "repbot_counts_recorded_total",
		Help: "Accepted count responses, per chosen value.",
	}, []string{"value"})

	invalidChoices = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "repbot_invalid_choices_total",
		Help: "Count responses rejected for being outside the allowed menu.",
	})
)

func IncUserRegistered()          { usersRegistered.Inc() }
func IncReminderSent(slot string) { remindersSent.WithLabelValues(slot).Inc() }
func IncReminderFailed(slot string) {
	remindersFailed.WithLabelValues(slot).Inc()
}
func IncCountRecorded(value int) {
	countsRecorded.WithLabelValues(strconv.Itoa(value)).Inc()
}
func IncInvalidChoice() { invalidChoices.Inc() }
