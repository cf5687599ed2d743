// internal/workers/substitution/timer-sweep/models.go
package timersweep

type Input struct {
	RequestID string `json:"requestId,omitempty"`
}

type Output struct {
	ProcessedCount int    `json:"processedCount"`
	Promoted       int    `json:"promoted"`
	Reopened       int    `json:"reopened"`
	Failed         int    `json:"failed"`
	SweptAt        string `json:"sweptAt"`
}
