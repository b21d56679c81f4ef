package model

// Contact is the JSON representation of a contact as exchanged with the phonebook service.
// Requests may leave out fields: a PUT only changes the fields that are present.
type Contact struct {
	Id          int64   `json:"id,omitempty"`
	FirstName   *string `json:"first_name,omitempty"`
	LastName    *string `json:"last_name,omitempty"`
	PhoneNumber *string `json:"phone_number,omitempty"`
	Address     *string `json:"address,omitempty"`
}

// ErrorBody is the JSON the service answers with when a request fails.
type ErrorBody struct {
	Message string `json:"message"`
}
