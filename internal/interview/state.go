package interview

// State is the progression state of a session
type State int

const (
	StateIdle State = iota
	StateRecording
	StateUploading
	StateAnalyzing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRecording:
		return "RECORDING"
	case StateUploading:
		return "UPLOADING"
	case StateAnalyzing:
		return "ANALYZING"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Progress is a snapshot of the session for display
type Progress struct {
	State     State
	Index     int // current question, len(questions) once every answer is uploaded
	Total     int
	Remaining int // seconds left on the countdown while recording
	Question  *Question
}

// CanAdvance reports whether a forced advance would be accepted
func (p Progress) CanAdvance() bool {
	return p.State == StateRecording
}
