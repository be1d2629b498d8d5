package forms

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"nexora/internal/models"
	"nexora/internal/query"
)

// CommunityService is what creating a community needs from the data layer.
type CommunityService interface {
	CreateCommunity(ctx context.Context, community models.NewCommunity) (*models.Community, error)
}

type CommunityOutcome struct {
	Community *models.Community
	Redirect  string
}

type CommunityForm struct {
	machine

	Name        string
	Description string

	svc   CommunityService
	cache Invalidator
}

func NewCommunityForm(svc CommunityService, cache Invalidator, log *zap.Logger) *CommunityForm {
	if log == nil {
		log = zap.NewNop()
	}
	return &CommunityForm{
		machine: machine{log: log},
		svc:     svc,
		cache:   cache,
	}
}

func (f *CommunityForm) Submit(ctx context.Context, ident *models.Identity) (*CommunityOutcome, error) {
	err := f.begin(func() error {
		return ValidateCommunity(ident, f.Name, f.Description)
	})
	if err != nil {
		return nil, err
	}

	community, err := f.svc.CreateCommunity(ctx, models.NewCommunity{
		Name:        strings.TrimSpace(f.Name),
		Description: strings.TrimSpace(f.Description),
		UserID:      ident.ID,
	})
	if err != nil {
		return nil, f.fail(err)
	}

	f.cache.Invalidate(query.Communities(), query.CommunityOptions())
	f.to(Succeeded)
	return &CommunityOutcome{Community: community, Redirect: "/communities"}, nil
}
