package model

// SyncQueueEntry is a pending upload for one session (the outbox row).
type SyncQueueEntry struct {
	ID         int64
	SessionID  string
	QueuedAt   int64 // epoch ms
	RetryCount int
}

// Exhausted reports whether the entry has used up its retry budget.
func (e SyncQueueEntry) Exhausted(maxRetries int) bool {
	return e.RetryCount >= maxRetries
}

// SessionPayload is the set of session fields allowed to leave the device.
// Fields are listed explicitly; anything added to Session stays local
// until it is added here on purpose.
type SessionPayload struct {
	ID          string        `json:"id"`
	UserID      string        `json:"userId"`
	AgeMonths   int           `json:"ageMonths"`
	Language    string        `json:"language"`
	Gender      string        `json:"gender"`
	CreatedAt   int64         `json:"createdAt"`
	CompletedAt *int64        `json:"completedAt"`
	Status      SessionStatus `json:"status"`
	Synced      bool          `json:"synced"`
}

// PayloadFromSession projects a Session onto the outbound allow-list.
func PayloadFromSession(s Session) SessionPayload {
	var completedAt *int64
	if s.CompletedAt != nil {
		v := *s.CompletedAt
		completedAt = &v
	}
	return SessionPayload{
		ID:          s.ID,
		UserID:      s.UserID,
		AgeMonths:   s.AgeMonths,
		Language:    s.Language,
		Gender:      s.Gender,
		CreatedAt:   s.CreatedAt,
		CompletedAt: completedAt,
		Status:      s.Status,
		Synced:      s.Synced,
	}
}

// SyncRequest is the body POSTed to the ingest endpoint.
type SyncRequest struct {
	Session    SessionPayload      `json:"session"`
	Biomarkers *BiomarkerAggregate `json:"biomarkers"`
}

// SyncResponse is the ingest endpoint's reply.
type SyncResponse struct {
	OK        bool   `json:"ok,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Note      string `json:"note,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NoteAlreadyExists marks an idempotent replay in SyncResponse.Note.
const NoteAlreadyExists = "already_exists"
