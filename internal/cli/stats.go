package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evcraddock/incident-board/internal/user"
)

// userStats is the profile summary shown by the web UI's profile page.
type userStats struct {
	Name          string `json:"name"`
	TotalPosts    int    `json:"total_posts"`
	TotalComments int    `json:"posts_commented_on"`
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <name>",
		Short: "Show a user's post and comment counts",
		Long:  "Show how many incidents a user has posted and on how many posts they have commented. Several comments on one post count once.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd, args[0])
		},
	}
}

func runStats(cmd *cobra.Command, name string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	s, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.close()

	u, err := s.users.GetByName(ctx, name)
	if errors.Is(err, user.ErrNotFound) {
		return fmt.Errorf("no user named %q", name)
	}
	if err != nil {
		return err
	}

	st := userStats{Name: u.Name}
	if st.TotalPosts, err = s.posts.CountByUser(ctx, u.ID); err != nil {
		return err
	}
	if st.TotalComments, err = s.posts.CountCommentsByUser(ctx, u.ID); err != nil {
		return err
	}

	if isJSON() {
		return printJSON(cmd.OutOrStdout(), st)
	}
	printStats(cmd.OutOrStdout(), st)
	return nil
}
