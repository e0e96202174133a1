package outlook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/dmitrijs2005/mailvault/internal/server/models"
)

// ListOptions controls message-listing pagination and filtering.
type ListOptions struct {
	Top    int
	Skip   int
	Search string
}

// Graph wire shapes; flattened into models DTOs before leaving this package.

type graphFolder struct {
	ID              string `json:"id"`
	DisplayName     string `json:"displayName"`
	UnreadItemCount int    `json:"unreadItemCount"`
	TotalItemCount  int    `json:"totalItemCount"`
}

type graphEmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type graphRecipient struct {
	EmailAddress graphEmailAddress `json:"emailAddress"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphMessage struct {
	ID               string           `json:"id"`
	Subject          string           `json:"subject"`
	From             *graphRecipient  `json:"from"`
	ToRecipients     []graphRecipient `json:"toRecipients"`
	CcRecipients     []graphRecipient `json:"ccRecipients"`
	ReceivedDateTime string           `json:"receivedDateTime"`
	IsRead           bool             `json:"isRead"`
	BodyPreview      string           `json:"bodyPreview"`
	Body             *graphBody       `json:"body"`
}

func (m *graphMessage) fromAddress() (addr, name string) {
	if m.From == nil {
		return "", ""
	}
	return m.From.EmailAddress.Address, m.From.EmailAddress.Name
}

// ListFolders returns the account's mail folders.
func (c *Client) ListFolders(ctx context.Context, src TokenSource) ([]models.MailFolder, error) {
	query := url.Values{"$select": {"id,displayName,unreadItemCount,totalItemCount"}}

	var payload struct {
		Value []graphFolder `json:"value"`
	}
	if err := c.graphJSON(ctx, src, http.MethodGet, "/me/mailFolders", query, &payload); err != nil {
		return nil, err
	}

	folders := make([]models.MailFolder, len(payload.Value))
	for i, f := range payload.Value {
		folders[i] = models.MailFolder{
			ID:          f.ID,
			Name:        f.DisplayName,
			UnreadCount: f.UnreadItemCount,
			TotalCount:  f.TotalItemCount,
		}
	}
	return folders, nil
}

// ListMessages returns one offset-paginated slice of the folder, newest
// first, together with the folder's total message count.
func (c *Client) ListMessages(ctx context.Context, src TokenSource, folder string, opts ListOptions) (*models.MessagePage, error) {
	if opts.Top <= 0 {
		opts.Top = 50
	}

	query := url.Values{
		"$select":  {"id,subject,from,receivedDateTime,isRead,bodyPreview"},
		"$orderby": {"receivedDateTime desc"},
		"$top":     {fmt.Sprint(opts.Top)},
		"$skip":    {fmt.Sprint(opts.Skip)},
		"$count":   {"true"},
	}
	if opts.Search != "" {
		query.Set("$search", fmt.Sprintf("%q", opts.Search))
	}

	var payload struct {
		Count int            `json:"@odata.count"`
		Value []graphMessage `json:"value"`
	}
	path := "/me/mailFolders/" + url.PathEscape(folder) + "/messages"
	if err := c.graphJSON(ctx, src, http.MethodGet, path, query, &payload); err != nil {
		return nil, err
	}

	items := make([]models.MailMessage, len(payload.Value))
	for i, m := range payload.Value {
		addr, name := m.fromAddress()
		items[i] = models.MailMessage{
			ID:          m.ID,
			Subject:     m.Subject,
			FromAddress: addr,
			FromName:    name,
			ReceivedAt:  m.ReceivedDateTime,
			IsRead:      m.IsRead,
			BodyPreview: m.BodyPreview,
		}
	}
	return &models.MessagePage{Items: items, Total: payload.Count, Limit: opts.Top, Skip: opts.Skip}, nil
}

// GetMessage returns the full message, including its body.
func (c *Client) GetMessage(ctx context.Context, src TokenSource, messageID string) (*models.MailDetail, error) {
	query := url.Values{
		"$select": {"id,subject,from,toRecipients,ccRecipients,receivedDateTime,isRead,body"},
	}

	var m graphMessage
	path := "/me/messages/" + url.PathEscape(messageID)
	if err := c.graphJSON(ctx, src, http.MethodGet, path, query, &m); err != nil {
		return nil, err
	}

	addr, name := m.fromAddress()
	detail := &models.MailDetail{
		ID:          m.ID,
		Subject:     m.Subject,
		FromAddress: addr,
		FromName:    name,
		To:          recipientAddresses(m.ToRecipients),
		Cc:          recipientAddresses(m.CcRecipients),
		ReceivedAt:  m.ReceivedDateTime,
		IsRead:      m.IsRead,
		BodyType:    "text",
	}
	if m.Body != nil {
		detail.BodyContent = m.Body.Content
		if m.Body.ContentType != "" {
			detail.BodyType = m.Body.ContentType
		}
	}
	return detail, nil
}

// DeleteMessage moves the message to Deleted Items.
func (c *Client) DeleteMessage(ctx context.Context, src TokenSource, messageID string) error {
	path := "/me/messages/" + url.PathEscape(messageID)
	return c.graphJSON(ctx, src, http.MethodDelete, path, nil, nil)
}

// UnreadCount returns the folder's unread message count.
func (c *Client) UnreadCount(ctx context.Context, src TokenSource, folder string) (int, error) {
	query := url.Values{"$select": {"unreadItemCount"}}

	var payload struct {
		UnreadItemCount int `json:"unreadItemCount"`
	}
	path := "/me/mailFolders/" + url.PathEscape(folder)
	if err := c.graphJSON(ctx, src, http.MethodGet, path, query, &payload); err != nil {
		return 0, err
	}
	return payload.UnreadItemCount, nil
}

func recipientAddresses(rs []graphRecipient) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		if r.EmailAddress.Address != "" {
			out = append(out, r.EmailAddress.Address)
		}
	}
	return out
}

// graphJSON performs one authenticated Graph call under the retry policy and
// decodes the 2xx response into out (out may be nil for DELETE).
//
// If the access token is rejected mid-call, exactly one refresh through the
// token source is attempted and the call retried once; a second rejection is
// escalated to KindInvalidGrant so callers see a terminal credential failure.
func (c *Client) graphJSON(ctx context.Context, src TokenSource, method, path string, query url.Values, out any) error {
	token, err := src.Token(ctx)
	if err != nil {
		return err
	}

	err = c.doGraph(ctx, method, path, query, token, out)
	if !isAuthRejected(err) {
		return err
	}

	c.log.Info(ctx, "access token rejected, refreshing once", "path", path)
	token, err = src.Refresh(ctx)
	if err != nil {
		return err
	}

	err = c.doGraph(ctx, method, path, query, token, out)
	var apiErr *APIError
	if isAuthRejected(err) && errors.As(err, &apiErr) {
		return &APIError{
			Kind:       KindInvalidGrant,
			StatusCode: apiErr.StatusCode,
			Code:       apiErr.Code,
			Message:    "access token rejected after refresh: " + apiErr.Message,
		}
	}
	return err
}

func (c *Client) doGraph(ctx context.Context, method, path string, query url.Values, token string, out any) error {
	rawURL := c.baseURL + path
	if len(query) > 0 {
		rawURL += "?" + query.Encode()
	}

	return c.withRetry(ctx, method+" "+path, func(ctx context.Context) error {
		body, status, err := c.roundTrip(ctx, method, rawURL, nil, token, nil)
		if err != nil {
			return err
		}
		if status < 200 || status > 299 {
			return classifyGraphResponse(status, body.header, body.data)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body.data, out); err != nil {
			return &APIError{Kind: KindTransient, StatusCode: status, Message: "malformed response body"}
		}
		return nil
	})
}
