package model

// TaskID identifies which screening task produced a reading.
type TaskID string

const (
	TaskGazeTracking    TaskID = "gaze_tracking"
	TaskMotorTap        TaskID = "motor_tap"
	TaskSoundMatch      TaskID = "sound_match"
	TaskSocialAttention TaskID = "social_attention"
	TaskResponseLatency TaskID = "response_latency"
)

// AllTasks lists the task kinds in presentation order.
var AllTasks = []TaskID{
	TaskGazeTracking,
	TaskMotorTap,
	TaskSoundMatch,
	TaskSocialAttention,
	TaskResponseLatency,
}

// Valid reports whether t is one of the known task kinds.
func (t TaskID) Valid() bool {
	for _, known := range AllTasks {
		if t == known {
			return true
		}
	}
	return false
}

// Reading is the raw output of one task pass from the inference pipeline.
// Scores are nominally 0.0-1.0 but are not trusted to be in range.
type Reading struct {
	GazeScore         float64
	MotorScore        float64
	VocalizationScore float64
	ResponseLatencyMs *int64
}

// Biomarker is a persisted reading. Rows are append-only.
type Biomarker struct {
	ID                int64
	SessionID         string
	UserID            string
	TaskID            TaskID
	GazeScore         float64
	MotorScore        float64
	VocalizationScore float64
	ResponseLatencyMs *int64
	Timestamp         int64 // epoch ms, strictly increasing per session
}

// DomainFlags are DSM-5 screening domain indicators derived from an aggregate.
type DomainFlags struct {
	SocialCommunication bool `json:"socialCommunication"`
	RestrictedBehavior  bool `json:"restrictedBehavior"`
}

// BiomarkerAggregate is the per-session summary computed from all readings.
// It is derived on demand and never persisted locally.
type BiomarkerAggregate struct {
	SessionID            string      `json:"sessionId"`
	AvgGazeScore         float64     `json:"avgGazeScore"`
	AvgMotorScore        float64     `json:"avgMotorScore"`
	AvgVocalizationScore float64     `json:"avgVocalizationScore"`
	AvgResponseLatencyMs *int64      `json:"avgResponseLatencyMs"`
	SampleCount          int         `json:"sampleCount"`
	OverallScore         int         `json:"overallScore"`
	Flags                DomainFlags `json:"flags"`
}
