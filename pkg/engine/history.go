package engine

import (
	"context"
	"time"

	"github.com/flexhook/flexhook/pkg/recipe"
)

// HistoryRecord describes one attempted recipe.
type HistoryRecord struct {
	// BatchID groups the records of one batch or manual apply.
	BatchID string `json:"batch_id"`

	Package string     `json:"package"`
	Version string     `json:"version"`
	Job     recipe.Job `json:"job"`

	// Status is telemetry.StatusSuccess or telemetry.StatusFailure.
	Status string `json:"status"`

	// Error holds the failure message, if any.
	Error string `json:"error,omitempty"`

	AppliedAt time.Time     `json:"applied_at"`
	Duration  time.Duration `json:"duration_ns"`
}

// History stores apply records. Failures to record are logged and do not
// affect the batch.
type History interface {
	RecordApply(ctx context.Context, rec HistoryRecord) error
}
