package models

// DTOs for the upstream mailbox; they mirror what the API returns to the
// frontend and are never persisted.

type MailFolder struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	UnreadCount int    `json:"unread_count"`
	TotalCount  int    `json:"total_count"`
}

type MailMessage struct {
	ID          string `json:"id"`
	Subject     string `json:"subject"`
	FromAddress string `json:"from_address"`
	FromName    string `json:"from_name"`
	ReceivedAt  string `json:"received_at"`
	IsRead      bool   `json:"is_read"`
	BodyPreview string `json:"body_preview"`
}

// MessagePage is one offset-paginated slice of a folder listing.
type MessagePage struct {
	Items []MailMessage `json:"items"`
	Total int           `json:"total"`
	Limit int           `json:"limit"`
	Skip  int           `json:"skip"`
}

type MailDetail struct {
	ID          string   `json:"id"`
	Subject     string   `json:"subject"`
	FromAddress string   `json:"from_address"`
	FromName    string   `json:"from_name"`
	To          []string `json:"to"`
	Cc          []string `json:"cc"`
	ReceivedAt  string   `json:"received_at"`
	IsRead      bool     `json:"is_read"`
	BodyContent string   `json:"body_content"`
	BodyType    string   `json:"body_type"`
}
