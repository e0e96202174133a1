package services

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/mailvault/internal/common"
	"github.com/dmitrijs2005/mailvault/internal/cryptox"
	"github.com/dmitrijs2005/mailvault/internal/logging"
	"github.com/dmitrijs2005/mailvault/internal/server/models"
	"github.com/dmitrijs2005/mailvault/internal/server/outlook"
	"github.com/dmitrijs2005/mailvault/internal/server/tokencache"
)

const defaultVerifyConcurrency = 10

// MailProber is the slice of the upstream client the verifier needs: a call
// that proves an access token works against the mailbox.
type MailProber interface {
	ListFolders(ctx context.Context, src outlook.TokenSource) ([]models.MailFolder, error)
}

// verifyStore is the slice of the document store the verifier uses.
type verifyStore interface {
	Read() (*models.Document, error)
	Mutate(fn func(doc *models.Document) error) error
}

// VerifyService checks that stored refresh credentials still work, one
// account at a time or for a whole owner in a bounded-concurrency sweep.
type VerifyService struct {
	store       verifyStore
	accounts    *AccountService
	cache       *tokencache.Cache
	prober      MailProber
	concurrency int
	log         logging.Logger
}

func NewVerifyService(store verifyStore, accounts *AccountService, cache *tokencache.Cache, prober MailProber, concurrency int, log logging.Logger) *VerifyService {
	if concurrency <= 0 {
		concurrency = defaultVerifyConcurrency
	}
	return &VerifyService{
		store:       store,
		accounts:    accounts,
		cache:       cache,
		prober:      prober,
		concurrency: concurrency,
		log:         log.With("component", "verify"),
	}
}

// VerifyOne checks a single account of the owner and persists the outcome.
func (s *VerifyService) VerifyOne(ctx context.Context, ownerID, accountID string) (*models.VerifyResult, error) {
	account, err := s.accounts.owned(ownerID, accountID)
	if err != nil {
		return nil, err
	}

	res, status := s.verify(ctx, account)
	if err := s.persist(accountID, status); err != nil {
		return nil, err
	}
	return &res, nil
}

// VerifyAll sweeps every account of the owner with at most s.concurrency
// checks in flight. Each outcome is persisted as soon as it is known, so a
// cancelled sweep keeps the results of the checks that completed. A persist
// failure is logged and confined to its account; only caller cancellation
// stops the sweep. The returned slice holds one result per checked account.
func (s *VerifyService) VerifyAll(ctx context.Context, ownerID string) ([]models.VerifyResult, error) {
	doc, err := s.store.Read()
	if err != nil {
		return nil, err
	}

	var targets []models.Account
	for _, a := range doc.Accounts {
		if ownerID == "" || a.OwnerID == ownerID {
			targets = append(targets, a)
		}
	}
	if len(targets) == 0 {
		return []models.VerifyResult{}, nil
	}

	s.log.Info(ctx, "verification sweep started", "accounts", len(targets), "concurrency", s.concurrency)
	start := time.Now()

	results := make([]models.VerifyResult, len(targets))
	done := make([]bool, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range targets {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			account := targets[i]
			res, status := s.verify(gctx, &account)
			if gctx.Err() != nil {
				// Interrupted mid-check; the outcome proves nothing.
				return gctx.Err()
			}
			if err := s.persist(account.ID, status); err != nil {
				s.log.Error(gctx, "verification outcome not persisted",
					"account_id", account.ID, "error", err.Error())
			}
			results[i] = res
			done[i] = true
			return nil
		})
	}
	err = g.Wait()

	completed := results[:0]
	for i, ok := range done {
		if ok {
			completed = append(completed, results[i])
		}
	}

	s.log.Info(ctx, "verification sweep finished",
		"completed", len(completed), "elapsed", time.Since(start).String())
	if err != nil {
		return completed, err
	}
	return completed, nil
}

// verify performs the actual check: decrypt the refresh token, force a fresh
// exchange through the cache, then probe the mailbox with the new token. The
// returned status is what should be persisted: empty means the check was
// inconclusive and the previous status stands.
func (s *VerifyService) verify(ctx context.Context, account *models.Account) (models.VerifyResult, models.AccountStatus) {
	res := models.VerifyResult{AccountID: account.ID, Email: account.Email}

	refreshToken, clientID, err := s.accounts.Credentials(account)
	if err != nil {
		if errors.Is(err, cryptox.ErrCipher) {
			res.Error = "stored refresh token cannot be decrypted"
			return res, models.StatusInvalid
		}
		res.Error = err.Error()
		return res, ""
	}

	// A cached token would prove nothing about the refresh credential, so
	// the exchange is forced.
	src := s.cache.Source(account.ID, refreshToken, clientID)
	if _, err := src.Refresh(ctx); err != nil {
		return res, classifyVerifyError(&res, err)
	}

	if _, err := s.prober.ListFolders(ctx, src); err != nil {
		return res, classifyVerifyError(&res, err)
	}

	res.Valid = true
	return res, models.StatusActive
}

// classifyVerifyError records the failure on the result and decides the
// status: a rejected grant is terminal, anything retryable is inconclusive.
func classifyVerifyError(res *models.VerifyResult, err error) models.AccountStatus {
	res.Error = err.Error()
	if outlook.IsInvalidGrant(err) {
		return models.StatusInvalid
	}
	return ""
}

// persist stamps the verification time and, when the check was conclusive,
// the new status. Racing deletes are not an error.
func (s *VerifyService) persist(accountID string, status models.AccountStatus) error {
	now := time.Now().UTC()
	err := s.store.Mutate(func(doc *models.Document) error {
		a := doc.FindAccount(accountID)
		if a == nil {
			return common.ErrorNotFound
		}
		a.LastVerified = &now
		if status != "" {
			a.Status = status
		}
		return nil
	})
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	return err
}
