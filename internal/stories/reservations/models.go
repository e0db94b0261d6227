package reservations

type Request struct {
	SlotStart string
	Email     string
	FirstName string
	LastName  string
	Phone     *string
	Selection []string
}
