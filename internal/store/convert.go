package store

import "github.com/jpalmerr/jobprogress"

// FromProgress converts a tracker snapshot into its storage representation.
func FromProgress(s jobprogress.Snapshot) Snapshot {
	var status *string
	if s.HasStatus {
		text := s.Status
		status = &text
	}

	return Snapshot{
		Name:      s.Name,
		URL:       s.URL,
		Value:     s.Value,
		Max:       s.Max,
		Percent:   s.PercentText,
		Status:    status,
		FailCount: s.FailCount,
		Completed: s.Completed,
		Reason:    s.Reason.String(),
		UpdatedAt: s.UpdatedAt,
	}
}
