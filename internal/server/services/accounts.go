package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/mailvault/internal/common"
	"github.com/dmitrijs2005/mailvault/internal/cryptox"
	"github.com/dmitrijs2005/mailvault/internal/logging"
	"github.com/dmitrijs2005/mailvault/internal/server/models"
	"github.com/dmitrijs2005/mailvault/internal/server/storage"
)

// importDelimiter separates the fields of one import/export line:
// email----password----refresh_token----client_id[----remark].
const importDelimiter = "----"

// AccountService manages mailbox accounts and their groups. Secrets pass
// through the codec on the way in and out of the document.
type AccountService struct {
	store *storage.Store
	codec cryptox.Codec
	log   logging.Logger
}

func NewAccountService(store *storage.Store, codec cryptox.Codec, log logging.Logger) *AccountService {
	return &AccountService{store: store, codec: codec, log: log.With("component", "accounts")}
}

// AccountInput carries the writable fields of an account.
type AccountInput struct {
	Email        string  `json:"email"`
	Password     string  `json:"password"`
	RefreshToken string  `json:"refresh_token"`
	ClientID     string  `json:"client_id"`
	GroupID      *string `json:"group_id"`
	Remark       string  `json:"remark"`
}

// AccountFilter narrows List results. Zero fields match everything.
type AccountFilter struct {
	Search  string
	GroupID string
	Status  models.AccountStatus
}

// ImportResult summarizes one bulk import.
type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors"`
}

// List returns the owner's accounts matching the filter, with secrets
// redacted.
func (s *AccountService) List(ctx context.Context, ownerID string, filter AccountFilter) ([]models.Account, error) {
	doc, err := s.store.Read()
	if err != nil {
		return nil, err
	}

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	out := []models.Account{}
	for _, a := range doc.Accounts {
		if a.OwnerID != ownerID {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.GroupID != "" && (a.GroupID == nil || *a.GroupID != filter.GroupID) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(a.Email), search) &&
			!strings.Contains(strings.ToLower(a.Remark), search) {
			continue
		}
		out = append(out, redact(a))
	}
	return out, nil
}

// Get returns one of the owner's accounts, with secrets redacted.
func (s *AccountService) Get(ctx context.Context, ownerID, accountID string) (*models.Account, error) {
	a, err := s.owned(ownerID, accountID)
	if err != nil {
		return nil, err
	}
	r := redact(*a)
	return &r, nil
}

// Create stores a new account for the owner. The email must be unique within
// the owner's accounts; secrets are encrypted at rest.
func (s *AccountService) Create(ctx context.Context, ownerID string, in AccountInput) (*models.Account, error) {
	if err := validateAccountInput(in); err != nil {
		return nil, err
	}

	encPassword, encToken, err := s.sealSecrets(in.Password, in.RefreshToken)
	if err != nil {
		return nil, err
	}

	var created models.Account
	err = s.store.Mutate(func(doc *models.Document) error {
		if ownerHasEmail(doc, ownerID, in.Email) {
			return fmt.Errorf("%w: account %q", common.ErrorDuplicate, in.Email)
		}
		if in.GroupID != nil && !doc.OwnerHasGroup(ownerID, *in.GroupID) {
			return fmt.Errorf("%w: unknown group", common.ErrorValidation)
		}
		created = models.Account{
			ID:           uuid.NewString(),
			OwnerID:      ownerID,
			Email:        in.Email,
			Password:     encPassword,
			RefreshToken: encToken,
			ClientID:     in.ClientID,
			GroupID:      in.GroupID,
			Remark:       in.Remark,
			Status:       models.StatusUnknown,
			CreatedAt:    time.Now().UTC(),
		}
		doc.Accounts = append(doc.Accounts, created)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "account created", "email", in.Email)
	r := redact(created)
	return &r, nil
}

// Update edits an account. Empty secret fields keep the stored values; a new
// refresh token resets the status to unknown because the previous
// verification outcome no longer applies.
func (s *AccountService) Update(ctx context.Context, ownerID, accountID string, in AccountInput) (*models.Account, error) {
	var updated models.Account
	err := s.store.Mutate(func(doc *models.Document) error {
		a := doc.FindAccount(accountID)
		if a == nil || a.OwnerID != ownerID {
			return common.ErrorNotFound
		}

		if in.Email != "" && in.Email != a.Email {
			if ownerHasEmail(doc, ownerID, in.Email) {
				return fmt.Errorf("%w: account %q", common.ErrorDuplicate, in.Email)
			}
			a.Email = in.Email
		}
		if in.Password != "" {
			enc, err := s.codec.Encrypt(in.Password)
			if err != nil {
				return err
			}
			a.Password = enc
		}
		if in.RefreshToken != "" {
			enc, err := s.codec.Encrypt(in.RefreshToken)
			if err != nil {
				return err
			}
			a.RefreshToken = enc
			a.Status = models.StatusUnknown
			a.LastVerified = nil
		}
		if in.ClientID != "" {
			a.ClientID = in.ClientID
		}
		if in.GroupID != nil {
			if *in.GroupID != "" && !doc.OwnerHasGroup(ownerID, *in.GroupID) {
				return fmt.Errorf("%w: unknown group", common.ErrorValidation)
			}
			if *in.GroupID == "" {
				a.GroupID = nil
			} else {
				a.GroupID = in.GroupID
			}
		}
		a.Remark = in.Remark

		updated = *a
		return nil
	})
	if err != nil {
		return nil, err
	}
	r := redact(updated)
	return &r, nil
}

// Delete removes one of the owner's accounts.
func (s *AccountService) Delete(ctx context.Context, ownerID, accountID string) error {
	return s.store.Mutate(func(doc *models.Document) error {
		a := doc.FindAccount(accountID)
		if a == nil || a.OwnerID != ownerID {
			return common.ErrorNotFound
		}
		accounts := doc.Accounts[:0]
		for _, acc := range doc.Accounts {
			if acc.ID != accountID {
				accounts = append(accounts, acc)
			}
		}
		doc.Accounts = accounts
		return nil
	})
}

// BatchDelete removes the owner's accounts with the given ids and returns how
// many were actually removed. Unknown or foreign ids are ignored.
func (s *AccountService) BatchDelete(ctx context.Context, ownerID string, ids []string) (int, error) {
	wanted := toSet(ids)
	removed := 0
	err := s.store.Mutate(func(doc *models.Document) error {
		accounts := doc.Accounts[:0]
		for _, a := range doc.Accounts {
			if a.OwnerID == ownerID && wanted[a.ID] {
				removed++
				continue
			}
			accounts = append(accounts, a)
		}
		doc.Accounts = accounts
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// BatchSetGroup moves the owner's accounts into the group (or out of any
// group when groupID is nil) and returns how many were moved.
func (s *AccountService) BatchSetGroup(ctx context.Context, ownerID string, ids []string, groupID *string) (int, error) {
	wanted := toSet(ids)
	moved := 0
	err := s.store.Mutate(func(doc *models.Document) error {
		if groupID != nil && !doc.OwnerHasGroup(ownerID, *groupID) {
			return fmt.Errorf("%w: unknown group", common.ErrorValidation)
		}
		for i := range doc.Accounts {
			a := &doc.Accounts[i]
			if a.OwnerID != ownerID || !wanted[a.ID] {
				continue
			}
			if groupID == nil {
				a.GroupID = nil
			} else {
				v := *groupID
				a.GroupID = &v
			}
			moved++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}

// Import parses the delimiter-separated bulk format, one account per line.
// Blank lines are ignored; malformed lines are reported per line number;
// emails the owner already has are skipped. A line needs at least four
// fields; a fifth becomes the remark, anything beyond is ignored.
func (s *AccountService) Import(ctx context.Context, ownerID, text string, groupID *string) (*ImportResult, error) {
	type parsed struct {
		input AccountInput
		line  int
	}

	res := &ImportResult{Errors: []string{}}
	var rows []parsed

	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" {
			continue
		}
		fields := strings.Split(line, importDelimiter)
		if len(fields) < 4 {
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: expected at least 4 fields, got %d", i+1, len(fields)))
			continue
		}
		in := AccountInput{
			Email:        strings.TrimSpace(fields[0]),
			Password:     strings.TrimSpace(fields[1]),
			RefreshToken: strings.TrimSpace(fields[2]),
			ClientID:     strings.TrimSpace(fields[3]),
			GroupID:      groupID,
		}
		if len(fields) > 4 {
			in.Remark = strings.TrimSpace(fields[4])
		}
		if in.Email == "" || in.RefreshToken == "" || in.ClientID == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: email, refresh token and client id are required", i+1))
			continue
		}
		rows = append(rows, parsed{input: in, line: i + 1})
	}

	if len(rows) == 0 {
		return res, nil
	}

	type sealed struct {
		parsed
		password string
		token    string
	}
	sealedRows := make([]sealed, 0, len(rows))
	for _, r := range rows {
		p, tok, err := s.sealSecrets(r.input.Password, r.input.RefreshToken)
		if err != nil {
			return nil, err
		}
		sealedRows = append(sealedRows, sealed{parsed: r, password: p, token: tok})
	}

	err := s.store.Mutate(func(doc *models.Document) error {
		if groupID != nil && !doc.OwnerHasGroup(ownerID, *groupID) {
			return fmt.Errorf("%w: unknown group", common.ErrorValidation)
		}
		seen := map[string]bool{}
		for _, a := range doc.Accounts {
			if a.OwnerID == ownerID {
				seen[strings.ToLower(a.Email)] = true
			}
		}
		for _, r := range sealedRows {
			key := strings.ToLower(r.input.Email)
			if seen[key] {
				res.Skipped++
				continue
			}
			seen[key] = true
			doc.Accounts = append(doc.Accounts, models.Account{
				ID:           uuid.NewString(),
				OwnerID:      ownerID,
				Email:        r.input.Email,
				Password:     r.password,
				RefreshToken: r.token,
				ClientID:     r.input.ClientID,
				GroupID:      r.input.GroupID,
				Remark:       r.input.Remark,
				Status:       models.StatusUnknown,
				CreatedAt:    time.Now().UTC(),
			})
			res.Imported++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "bulk import finished",
		"imported", res.Imported, "skipped", res.Skipped, "errors", len(res.Errors))
	return res, nil
}

// Export renders the owner's accounts (all of them when ids is empty) in the
// import format, secrets decrypted. An undecryptable secret fails the whole
// export rather than silently emitting ciphertext.
func (s *AccountService) Export(ctx context.Context, ownerID string, ids []string) (string, error) {
	doc, err := s.store.Read()
	if err != nil {
		return "", err
	}

	wanted := toSet(ids)
	var b strings.Builder
	for _, a := range doc.Accounts {
		if a.OwnerID != ownerID {
			continue
		}
		if len(ids) > 0 && !wanted[a.ID] {
			continue
		}
		password, token, err := s.openSecrets(a)
		if err != nil {
			return "", fmt.Errorf("account %s: %w", a.Email, err)
		}
		fields := []string{a.Email, password, token, a.ClientID}
		if a.Remark != "" {
			fields = append(fields, a.Remark)
		}
		b.WriteString(strings.Join(fields, importDelimiter))
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// Credentials decrypts the account's refresh token and returns it with the
// client id. ErrCipher propagates so callers can mark the account invalid.
func (s *AccountService) Credentials(a *models.Account) (refreshToken, clientID string, err error) {
	token, err := s.codec.Decrypt(a.RefreshToken)
	if err != nil {
		return "", "", err
	}
	return token, a.ClientID, nil
}

// owned fetches an account checking ownership, without redaction. For
// internal callers (verify, mail proxy).
func (s *AccountService) owned(ownerID, accountID string) (*models.Account, error) {
	doc, err := s.store.Read()
	if err != nil {
		return nil, err
	}
	a := doc.FindAccount(accountID)
	if a == nil || a.OwnerID != ownerID {
		return nil, common.ErrorNotFound
	}
	out := *a
	return &out, nil
}

func (s *AccountService) sealSecrets(password, refreshToken string) (encPassword, encToken string, err error) {
	encPassword, err = s.codec.Encrypt(password)
	if err != nil {
		return "", "", err
	}
	encToken, err = s.codec.Encrypt(refreshToken)
	if err != nil {
		return "", "", err
	}
	return encPassword, encToken, nil
}

func (s *AccountService) openSecrets(a models.Account) (password, refreshToken string, err error) {
	password, err = s.codec.Decrypt(a.Password)
	if err != nil {
		return "", "", err
	}
	refreshToken, err = s.codec.Decrypt(a.RefreshToken)
	if err != nil {
		return "", "", err
	}
	return password, refreshToken, nil
}

func validateAccountInput(in AccountInput) error {
	if strings.TrimSpace(in.Email) == "" {
		return fmt.Errorf("%w: email is required", common.ErrorValidation)
	}
	if strings.TrimSpace(in.RefreshToken) == "" {
		return fmt.Errorf("%w: refresh token is required", common.ErrorValidation)
	}
	if strings.TrimSpace(in.ClientID) == "" {
		return fmt.Errorf("%w: client id is required", common.ErrorValidation)
	}
	return nil
}

func ownerHasEmail(doc *models.Document, ownerID, email string) bool {
	for _, a := range doc.Accounts {
		if a.OwnerID == ownerID && strings.EqualFold(a.Email, email) {
			return true
		}
	}
	return false
}

func redact(a models.Account) models.Account {
	a.Password = ""
	a.RefreshToken = ""
	return a
}

func toSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}
