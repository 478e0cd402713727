package entity

// HistoryEntry is one client-supplied transcript item.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TurnRole is the speaker of a turn sent to the model.
type TurnRole string

const (
	TurnUser  TurnRole = "user"
	TurnModel TurnRole = "model"
)

// Turn is one role-tagged message unit of the model request.
type Turn struct {
	Role TurnRole
	Text string
}
