package domain

// PresenceStatus is the bot's status indicator
type PresenceStatus string

const (
	StatusOnline    PresenceStatus = "online"
	StatusIdle      PresenceStatus = "idle"
	StatusDND       PresenceStatus = "dnd"
	StatusInvisible PresenceStatus = "invisible"
)

// Valid reports whether s is a status the chat platform accepts
func (s PresenceStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusIdle, StatusDND, StatusInvisible:
		return true
	}
	return false
}

// ActivityKind is the verb shown in front of the activity text
type ActivityKind string

const (
	ActivityPlaying   ActivityKind = "Playing"
	ActivityListening ActivityKind = "Listening"
	ActivityWatching  ActivityKind = "Watching"
	ActivityCompeting ActivityKind = "Competing"
)

// Code returns the gateway activity type for the kind, -1 if unknown
func (k ActivityKind) Code() int {
	switch k {
	case ActivityPlaying:
		return 0
	case ActivityListening:
		return 2
	case ActivityWatching:
		return 3
	case ActivityCompeting:
		return 5
	}
	return -1
}

// Presence is what the bot shows next to its name
type Presence struct {
	Status   PresenceStatus `json:"status"`
	Activity ActivityKind   `json:"activity"`
	Text     string         `json:"text"`
}
