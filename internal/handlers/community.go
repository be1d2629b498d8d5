package handlers

import (
	"context"

	"golang.org/x/sync/errgroup"

	"nexora/internal/models"
	"nexora/internal/query"
)

// loadCommunityPage runs the community and its posts queries side by side.
// A missing community comes back as nil with no error.
func (h *Handler) loadCommunityPage(ctx context.Context, id int64) (*models.Community, []models.Post, error) {
	var community *models.Community
	var posts []models.Post

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		community, err = h.fetchCommunity(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		posts, err = query.Fetch(gctx, h.cache, query.CommunityPosts(id), query.CommunityPolicy, func(ctx context.Context) ([]models.Post, error) {
			return h.store.FetchCommunityPosts(ctx, id)
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return community, posts, nil
}
