package models

// Material processing status constants
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusIndexed    = "indexed"
	StatusFailed     = "failed"
)

// transitions lists every legal processing status change.
// indexed -> pending and failed -> pending only happen through an explicit reprocess.
var transitions = map[string]map[string]bool{
	StatusPending:    {StatusProcessing: true},
	StatusProcessing: {StatusIndexed: true, StatusFailed: true},
	StatusIndexed:    {StatusPending: true},
	StatusFailed:     {StatusPending: true},
}

// CanTransition reports whether a material may move from one status to another
func CanTransition(from, to string) bool {
	return transitions[from][to]
}

// IsValidStatus reports whether s is a known processing status
func IsValidStatus(s string) bool {
	_, ok := transitions[s]
	return ok
}

// AllStatuses lists every processing status
var AllStatuses = []string{StatusPending, StatusProcessing, StatusIndexed, StatusFailed}
