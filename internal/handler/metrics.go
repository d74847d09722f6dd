package handler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storiesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowtale_stories_created_total",
		Help: "Total number of stories created and persisted.",
	})

	storyChoicesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowtale_story_choices_total",
		Help: "Total number of choices committed to stored stories.",
	})

	storiesCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowtale_stories_completed_total",
		Help: "Total number of completed stories.",
	})

	actionErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowtale_action_errors_total",
			Help: "Total number of failed story actions by error code.",
		},
		[]string{"code"},
	)
)
