package models

// Profile is the canonical shape a federated provider profile is normalized
// into before identity resolution. Avatar is a pointer so an unresolvable
// picture serializes as null rather than being omitted.
type Profile struct {
	SubjectID string  `json:"-"`
	Name      string  `json:"name"`
	Lastname  string  `json:"lastname"`
	Email     string  `json:"email"`
	Phone     string  `json:"phone"`
	Country   string  `json:"country"`
	Avatar    *string `json:"avatar"`
}
