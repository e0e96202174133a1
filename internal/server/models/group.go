package models

// Group is a named collection of accounts. Names are unique per owner.
// Deleting a group nulls the GroupID of its accounts; it never deletes them.
type Group struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Name    string `json:"name"`
}
