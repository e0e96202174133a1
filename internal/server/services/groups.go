package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/mailvault/internal/common"
	"github.com/dmitrijs2005/mailvault/internal/server/models"
)

// GroupWithCount is a group plus how many of the owner's accounts it holds.
type GroupWithCount struct {
	models.Group
	AccountCount int `json:"account_count"`
}

// ListGroups returns the owner's groups with account counts.
func (s *AccountService) ListGroups(ctx context.Context, ownerID string) ([]GroupWithCount, error) {
	doc, err := s.store.Read()
	if err != nil {
		return nil, err
	}

	counts := map[string]int{}
	for _, a := range doc.Accounts {
		if a.OwnerID == ownerID && a.GroupID != nil {
			counts[*a.GroupID]++
		}
	}

	out := []GroupWithCount{}
	for _, g := range doc.Groups {
		if g.OwnerID != ownerID {
			continue
		}
		out = append(out, GroupWithCount{Group: g, AccountCount: counts[g.ID]})
	}
	return out, nil
}

// CreateGroup adds a group. Names are unique per owner, case-insensitively.
func (s *AccountService) CreateGroup(ctx context.Context, ownerID, name string) (*models.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: group name is required", common.ErrorValidation)
	}

	var created models.Group
	err := s.store.Mutate(func(doc *models.Document) error {
		if ownerHasGroupName(doc, ownerID, name) {
			return fmt.Errorf("%w: group %q", common.ErrorDuplicate, name)
		}
		created = models.Group{ID: uuid.NewString(), OwnerID: ownerID, Name: name}
		doc.Groups = append(doc.Groups, created)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// RenameGroup changes a group's name, keeping per-owner uniqueness.
func (s *AccountService) RenameGroup(ctx context.Context, ownerID, groupID, name string) (*models.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: group name is required", common.ErrorValidation)
	}

	var updated models.Group
	err := s.store.Mutate(func(doc *models.Document) error {
		g := doc.FindGroup(groupID)
		if g == nil || g.OwnerID != ownerID {
			return common.ErrorNotFound
		}
		if !strings.EqualFold(g.Name, name) && ownerHasGroupName(doc, ownerID, name) {
			return fmt.Errorf("%w: group %q", common.ErrorDuplicate, name)
		}
		g.Name = name
		updated = *g
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteGroup removes the group and detaches its accounts. Accounts are never
// deleted with their group.
func (s *AccountService) DeleteGroup(ctx context.Context, ownerID, groupID string) error {
	return s.store.Mutate(func(doc *models.Document) error {
		g := doc.FindGroup(groupID)
		if g == nil || g.OwnerID != ownerID {
			return common.ErrorNotFound
		}

		groups := doc.Groups[:0]
		for _, gr := range doc.Groups {
			if gr.ID != groupID {
				groups = append(groups, gr)
			}
		}
		doc.Groups = groups

		for i := range doc.Accounts {
			a := &doc.Accounts[i]
			if a.GroupID != nil && *a.GroupID == groupID {
				a.GroupID = nil
			}
		}
		return nil
	})
}

func ownerHasGroupName(doc *models.Document, ownerID, name string) bool {
	for _, g := range doc.Groups {
		if g.OwnerID == ownerID && strings.EqualFold(g.Name, name) {
			return true
		}
	}
	return false
}
