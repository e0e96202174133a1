package services

import (
	"context"

	"github.com/dmitrijs2005/mailvault/internal/logging"
	"github.com/dmitrijs2005/mailvault/internal/server/models"
	"github.com/dmitrijs2005/mailvault/internal/server/outlook"
	"github.com/dmitrijs2005/mailvault/internal/server/tokencache"
)

// MailClient is the slice of the upstream client the mail proxy uses.
type MailClient interface {
	ListFolders(ctx context.Context, src outlook.TokenSource) ([]models.MailFolder, error)
	ListMessages(ctx context.Context, src outlook.TokenSource, folder string, opts outlook.ListOptions) (*models.MessagePage, error)
	GetMessage(ctx context.Context, src outlook.TokenSource, messageID string) (*models.MailDetail, error)
	DeleteMessage(ctx context.Context, src outlook.TokenSource, messageID string) error
	UnreadCount(ctx context.Context, src outlook.TokenSource, folder string) (int, error)
}

// MailService proxies mailbox reads and deletes for one stored account,
// resolving ownership and credentials before every upstream call.
type MailService struct {
	accounts *AccountService
	cache    *tokencache.Cache
	client   MailClient
	log      logging.Logger
}

func NewMailService(accounts *AccountService, cache *tokencache.Cache, client MailClient, log logging.Logger) *MailService {
	return &MailService{
		accounts: accounts,
		cache:    cache,
		client:   client,
		log:      log.With("component", "mail"),
	}
}

// source resolves the owner's account and binds a token source to its
// decrypted credentials.
func (s *MailService) source(ownerID, accountID string) (outlook.TokenSource, error) {
	account, err := s.accounts.owned(ownerID, accountID)
	if err != nil {
		return nil, err
	}
	refreshToken, clientID, err := s.accounts.Credentials(account)
	if err != nil {
		return nil, err
	}
	return s.cache.Source(account.ID, refreshToken, clientID), nil
}

func (s *MailService) Folders(ctx context.Context, ownerID, accountID string) ([]models.MailFolder, error) {
	src, err := s.source(ownerID, accountID)
	if err != nil {
		return nil, err
	}
	return s.client.ListFolders(ctx, src)
}

func (s *MailService) Messages(ctx context.Context, ownerID, accountID, folder string, opts outlook.ListOptions) (*models.MessagePage, error) {
	src, err := s.source(ownerID, accountID)
	if err != nil {
		return nil, err
	}
	return s.client.ListMessages(ctx, src, folder, opts)
}

func (s *MailService) Message(ctx context.Context, ownerID, accountID, messageID string) (*models.MailDetail, error) {
	src, err := s.source(ownerID, accountID)
	if err != nil {
		return nil, err
	}
	return s.client.GetMessage(ctx, src, messageID)
}

func (s *MailService) DeleteMessage(ctx context.Context, ownerID, accountID, messageID string) error {
	src, err := s.source(ownerID, accountID)
	if err != nil {
		return err
	}
	s.log.Info(ctx, "deleting message", "account_id", accountID)
	return s.client.DeleteMessage(ctx, src, messageID)
}

func (s *MailService) UnreadCount(ctx context.Context, ownerID, accountID, folder string) (int, error) {
	src, err := s.source(ownerID, accountID)
	if err != nil {
		return 0, err
	}
	return s.client.UnreadCount(ctx, src, folder)
}
