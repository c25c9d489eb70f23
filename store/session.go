package store

// SessionStatus is the persisted lifecycle status of a session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
)

type Session struct {
	ID             string
	Name           string
	OwnerID        string
	PersonaIDs     []string
	Status         SessionStatus
	MessageCount   int
	LastActivityTs int64
	CreatedTs      int64
}

type FindSession struct {
	ID                 *string
	OwnerID            *string
	Status             *SessionStatus
	LastActivityBefore *int64
	Limit              *int
}

// UpdateSession updates a session. MessageCountDelta is added to the stored
// counter and LastActivityTs only ever moves forward, so concurrent rounds
// can write in any order.
type UpdateSession struct {
	ID                string
	Status            *SessionStatus
	MessageCountDelta int
	LastActivityTs    *int64
}
