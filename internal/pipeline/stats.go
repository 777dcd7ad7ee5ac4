package pipeline

import (
	"log/slog"
	"time"

	"github.com/afi-canon/internal/debug"
)

// Stats tracks what one pipeline run did
type Stats struct {
	RunID    string
	Datasets int
	Rows     int
	Keys     int

	High   int
	Medium int
	Low    int

	Flagged          int
	EscalatedAccept  int
	QueuedForReview  int
	Reviewed         int
	ReviewAccepted   int
	ReviewRejected   int
	ReviewSkipped    int
	PendingReview    int
	LifecycleMoved   int
	LifecycleRefused int

	StoreDigest    string
	AppliedRows    int
	FallbackRows   int
	UnresolvedKeys int
	Outputs        []string
	Reports        []string

	ProcessingTime time.Duration
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

// Log writes the run summary to logger and, when localDebug is set, the
// per-stage breakdown to the debug output.
func (s *Stats) Log(localDebug bool, logger *slog.Logger) {
	if logger != nil {
		logger.Info("pipeline complete",
			"run_id", s.RunID,
			"datasets", s.Datasets,
			"rows", s.Rows,
			"keys", s.Keys,
			"applied_rows", s.AppliedRows,
			"fallback_rows", s.FallbackRows,
			"unresolved_keys", s.UnresolvedKeys,
			"pending_review", s.PendingReview,
			"digest", s.StoreDigest,
			"took", s.ProcessingTime)
	}

	debug.DebugOutput(localDebug, "Pipeline run %s complete:", s.RunID)
	debug.DebugOutput(localDebug, "  Rows scanned: %d across %d datasets", s.Rows, s.Datasets)
	debug.DebugOutput(localDebug, "  Keys: %d (high %d, medium %d, low %d)", s.Keys, s.High, s.Medium, s.Low)
	debug.DebugOutput(localDebug, "  Flagged: %d (%.1f%%), escalation accepted %d, queued %d",
		s.Flagged, pct(s.Flagged, s.Keys), s.EscalatedAccept, s.QueuedForReview)
	debug.DebugOutput(localDebug, "  Reviewed: %d (accepted %d, rejected %d, skipped %d)",
		s.Reviewed, s.ReviewAccepted, s.ReviewRejected, s.ReviewSkipped)
	debug.DebugOutput(localDebug, "  Applied rows: %d (%.1f%%), fallback %d",
		s.AppliedRows, pct(s.AppliedRows, s.Rows), s.FallbackRows)
	debug.DebugOutput(localDebug, "  Processing time: %v", s.ProcessingTime)
}
