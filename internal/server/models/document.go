package models

// Settings holds instance-wide toggles persisted alongside the entities.
type Settings struct {
	AllowRegistration bool `json:"allow_registration"`
}

// Document is the single root aggregate persisted by the store. All mutation
// is read-modify-write against the whole document, never partial updates.
type Document struct {
	Users    []User    `json:"users"`
	Groups   []Group   `json:"groups"`
	Accounts []Account `json:"accounts"`
	Settings Settings  `json:"settings"`
}

// NewDocument returns an empty, normalized document.
func NewDocument() *Document {
	return &Document{
		Users:    []User{},
		Groups:   []Group{},
		Accounts: []Account{},
		Settings: Settings{AllowRegistration: true},
	}
}

// Normalize replaces nil collections with empty ones so the persisted JSON
// always carries the three top-level lists. Reports whether anything changed.
func (d *Document) Normalize() bool {
	changed := false
	if d.Users == nil {
		d.Users = []User{}
		changed = true
	}
	if d.Groups == nil {
		d.Groups = []Group{}
		changed = true
	}
	if d.Accounts == nil {
		d.Accounts = []Account{}
		changed = true
	}
	return changed
}

// FindAccount returns a pointer into the document's account slice, or nil.
func (d *Document) FindAccount(id string) *Account {
	for i := range d.Accounts {
		if d.Accounts[i].ID == id {
			return &d.Accounts[i]
		}
	}
	return nil
}

// FindGroup returns a pointer into the document's group slice, or nil.
func (d *Document) FindGroup(id string) *Group {
	for i := range d.Groups {
		if d.Groups[i].ID == id {
			return &d.Groups[i]
		}
	}
	return nil
}

// FindUser returns a pointer into the document's user slice, or nil.
func (d *Document) FindUser(id string) *User {
	for i := range d.Users {
		if d.Users[i].ID == id {
			return &d.Users[i]
		}
	}
	return nil
}

// UserByName looks a user up by username, or nil.
func (d *Document) UserByName(username string) *User {
	for i := range d.Users {
		if d.Users[i].Username == username {
			return &d.Users[i]
		}
	}
	return nil
}

// OwnerHasGroup reports whether the owner has a group with the given id.
func (d *Document) OwnerHasGroup(ownerID, groupID string) bool {
	for i := range d.Groups {
		if d.Groups[i].ID == groupID && d.Groups[i].OwnerID == ownerID {
			return true
		}
	}
	return false
}
