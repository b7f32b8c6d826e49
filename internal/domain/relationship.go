package domain

type RelationStatus string

const (
	StatusPending  RelationStatus = "pending"
	StatusAccepted RelationStatus = "accepted"
	StatusDeclined RelationStatus = "declined"
)

type RelationKind string

const (
	// KindMatch is a connection created from a match application.
	KindMatch RelationKind = "match"
	// KindDirect is a direct connection request between two users.
	KindDirect RelationKind = "direct"
)

// Relationship is an edge of the social graph. The id doubles as the
// conversation id a one-to-one voice session is keyed on.
type Relationship interface {
	ID() string
	Kind() RelationKind
	Participants() (UserID, UserID)
	Status() RelationStatus
}

type MatchConnection struct {
	MatchID     string
	RequesterID UserID
	AccepterID  UserID
	State       RelationStatus
}

func (m MatchConnection) ID() string                     { return m.MatchID }
func (m MatchConnection) Kind() RelationKind             { return KindMatch }
func (m MatchConnection) Participants() (UserID, UserID) { return m.RequesterID, m.AccepterID }
func (m MatchConnection) Status() RelationStatus         { return m.State }

type ConnectionRequest struct {
	RequestID  string
	SenderID   UserID
	ReceiverID UserID
	State      RelationStatus
}

func (c ConnectionRequest) ID() string                     { return c.RequestID }
func (c ConnectionRequest) Kind() RelationKind             { return KindDirect }
func (c ConnectionRequest) Participants() (UserID, UserID) { return c.SenderID, c.ReceiverID }
func (c ConnectionRequest) Status() RelationStatus         { return c.State }

// Counterpart returns the other participant of r, or false if u is not part of it.
func Counterpart(r Relationship, u UserID) (UserID, bool) {
	a, b := r.Participants()
	switch u {
	case a:
		return b, true
	case b:
		return a, true
	}
	return "", false
}

// AcceptedBetween reports whether r is accepted and joins exactly a and b.
func AcceptedBetween(r Relationship, a, b UserID) bool {
	if r == nil || r.Status() != StatusAccepted || a == b {
		return false
	}
	other, ok := Counterpart(r, a)
	return ok && other == b
}
