package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"nexora/internal/models"
	"nexora/internal/query"
)

var postsLimit int

// postsCmd prints the feed the home page would show. Handy for checking
// that the backend and the counts function are reachable.
var postsCmd = &cobra.Command{
	Use:   "posts",
	Short: "Print the post feed from the backend",
	RunE:  runPosts,
}

func init() {
	postsCmd.Flags().IntVarP(&postsLimit, "limit", "n", 20, "Maximum number of posts to print (0 or less prints all)")
}

func runPosts(cmd *cobra.Command, args []string) error {
	if cfg.Supabase.URL == "" || cfg.Supabase.AnonKey == "" {
		return fmt.Errorf("SUPABASE_URL and SUPABASE_ANON_KEY are required")
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store := newStore(newBackend())
	posts, err := query.Fetch(ctx, query.NewCache(logger), query.Posts(), query.PostsPolicy, store.FetchPosts)
	if err != nil {
		return err
	}

	return writePosts(cmd.OutOrStdout(), posts, postsLimit)
}

// writePosts prints up to limit posts as a table. A limit of zero or less
// prints them all.
func writePosts(w io.Writer, posts []models.Post, limit int) error {
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tLIKES\tCOMMENTS\tTITLE")
	for _, p := range posts {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\n", p.ID, p.CreatedAt.Format(time.DateOnly), p.Likes(), p.Comments(), p.Title)
	}
	return tw.Flush()
}
