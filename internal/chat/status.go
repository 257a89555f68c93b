package chat

// Status is the delivery state of a message. The zero value is invalid.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusRead      Status = "READ"
)

var statusRank = map[Status]int{
	StatusPending:   1,
	StatusSent:      2,
	StatusDelivered: 3,
	StatusRead:      4,
}

// Rank orders statuses; unknown values rank 0.
func (s Status) Rank() int {
	return statusRank[s]
}

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	return s.Rank() > 0
}

// Before reports whether s is strictly earlier than other.
func (s Status) Before(other Status) bool {
	return s.Rank() < other.Rank()
}

// Max returns the later of two statuses.
func Max(a, b Status) Status {
	if a.Before(b) {
		return b
	}
	return a
}
