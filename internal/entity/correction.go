package entity

import "time"

// Correction is a user's fix of one translated sentence. It is reused when the
// same user translates the same sentence again and is shown to the model as an
// example for the language pair.
type Correction struct {
	ID             string `json:"id"`
	OwnerID        string `json:"owner_id"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	SourceText     string `json:"source_text"`
	Translation    string `json:"translation"`
	// JobID is the job whose output was corrected, if any.
	JobID      string     `json:"job_id,omitempty"`
	UsageCount int        `json:"usage_count"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// Clone returns a copy safe to mutate.
func (c *Correction) Clone() *Correction {
	if c == nil {
		return nil
	}
	out := *c
	if c.LastUsedAt != nil {
		t := *c.LastUsedAt
		out.LastUsedAt = &t
	}
	return &out
}
