package domain

import "time"

// Session is one conversation thread tied to a single medical condition.
type Session struct {
	ID              string            `json:"session_id"`
	ConditionID     string            `json:"condition_id"`
	ConditionName   string            `json:"condition_name"`
	ClinicalData    map[string]string `json:"clinical_data,omitempty"`
	EducationalNote *EducationalNote  `json:"educational_note,omitempty"`
	Stats           SessionStats      `json:"stats"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// SessionStats aggregates how the router classified the queries of a session.
// TotalQueries counts every routed query; condition-mismatch turns count toward
// the total only, so TotalQueries >= High + Medium + Low.
type SessionStats struct {
	TotalQueries     int `json:"total_queries"`
	HighConfidence   int `json:"high_confidence"`
	MediumConfidence int `json:"medium_confidence"`
	LowConfidence    int `json:"low_confidence"`
}

// Valid reports whether the counters are internally consistent.
func (s SessionStats) Valid() bool {
	if s.TotalQueries < 0 || s.HighConfidence < 0 || s.MediumConfidence < 0 || s.LowConfidence < 0 {
		return false
	}
	return s.TotalQueries >= s.HighConfidence+s.MediumConfidence+s.LowConfidence
}

// EducationalNote is a generated, cached note about the session's condition.
// It is replaced wholesale, never merged.
type EducationalNote struct {
	ConditionID   string `json:"condition_id"`
	ConditionName string `json:"condition_name"`
	Note          string `json:"note"`
}

// SessionSummary is the overview row shown in the session list, ordered by
// recency. Preview is the first user message of the session, if any.
type SessionSummary struct {
	ID            string       `json:"session_id"`
	ConditionID   string       `json:"condition_id"`
	ConditionName string       `json:"condition_name"`
	Preview       string       `json:"preview"`
	MessageCount  int          `json:"message_count"`
	Stats         SessionStats `json:"stats"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"last_updated"`
}
