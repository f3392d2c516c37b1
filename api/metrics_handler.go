package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/triagehq/triage/job"
	"github.com/triagehq/triage/track"
)

// metricsResponse is the wire form of a tracker snapshot. Processing
// times are reported in milliseconds.
type metricsResponse struct {
	TotalSubmitted    int64            `json:"total_submitted"`
	TotalCompleted    int64            `json:"total_completed"`
	TotalDeadLettered int64            `json:"total_dead_lettered"`
	TotalCancelled    int64            `json:"total_cancelled"`
	StateCounts       map[string]int64 `json:"state_counts"`
	SuccessRate       float64          `json:"success_rate"`
	AvgProcessingMs   float64          `json:"avg_processing_ms"`
	P95ProcessingMs   float64          `json:"p95_processing_ms"`
	WindowSize        int              `json:"window_size"`
	LaneDepths        map[string]int   `json:"lane_depths"`
}

func newMetricsResponse(snap track.Snapshot) metricsResponse {
	resp := metricsResponse{
		TotalSubmitted:    snap.TotalSubmitted,
		TotalCompleted:    snap.TotalCompleted,
		TotalDeadLettered: snap.TotalDeadLettered,
		TotalCancelled:    snap.TotalCancelled,
		StateCounts:       make(map[string]int64, len(snap.StateCounts)),
		SuccessRate:       snap.SuccessRate,
		AvgProcessingMs:   float64(snap.AvgProcessingTime.Microseconds()) / 1000,
		P95ProcessingMs:   float64(snap.P95ProcessingTime.Microseconds()) / 1000,
		WindowSize:        snap.WindowSize,
		LaneDepths:        make(map[string]int, job.NumPriorities),
	}
	for state, n := range snap.StateCounts {
		resp.StateCounts[string(state)] = n
	}
	for p, depth := range snap.LaneDepths {
		resp.LaneDepths[p.String()] = depth
	}
	return resp
}

// metrics handles GET /v1/metrics.
func (a *API) metrics(c *gin.Context) {
	c.JSON(http.StatusOK, newMetricsResponse(a.eng.Metrics()))
}
