// Package cli defines the cobra command tree for the incident board.
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/evcraddock/incident-board/internal/config"
	"github.com/evcraddock/incident-board/internal/db"
	"github.com/evcraddock/incident-board/internal/mongostore"
	"github.com/evcraddock/incident-board/internal/post"
	"github.com/evcraddock/incident-board/internal/user"
)

var (
	flagFormat string
	flagDB     string
	flagConfig string
)

// NewRootCmd creates the root cobra command with global flags.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ib",
		Short:         "Report and discuss incidents",
		Long:          "A small board where users report incidents, like and comment on them. Run the web UI with 'ib serve' or manage accounts from the command line.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagFormat, "format", "text", "output format (text|json)")
	root.PersistentFlags().StringVar(&flagDB, "db", "", "SQLite database path (default: ~/.incident-board/board.db)")
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: ~/.config/ib/config.yaml)")

	root.AddCommand(
		newServeCmd(),
		newUserCmd(),
		newStatsCmd(),
		newVersionCmd(),
	)

	return root
}

// loadConfig reads the configuration and applies the --db flag.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return config.Config{}, err
	}
	if flagDB != "" {
		cfg.DBPath = flagDB
	}
	return cfg, nil
}

// isJSON returns true if the --format flag is set to json.
func isJSON() bool {
	return flagFormat == "json"
}

// stores holds the opened user and post stores along with the handles
// that back them.
type stores struct {
	users  user.Store
	posts  post.Store
	sqlite *sql.DB
	mongo  *mongostore.Store
}

// openStores opens the backends selected by cfg. The SQLite file is
// opened whenever any component needs it.
func openStores(ctx context.Context, cfg config.Config) (*stores, error) {
	s := &stores{}
	if cfg.NeedsSQLite() {
		d, err := db.Open(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		s.sqlite = d
	}

	switch cfg.Store {
	case config.StoreMongo:
		m, err := mongostore.Open(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			s.close()
			return nil, err
		}
		s.mongo = m
		s.users = m.Users()
		s.posts = m.Posts()
	default:
		s.users = user.NewRepository(s.sqlite)
		s.posts = post.NewRepository(s.sqlite)
	}
	return s, nil
}

// close releases every backend, logging errors to stderr.
func (s *stores) close() {
	if s.mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.mongo.Close(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing mongo: %v\n", err)
		}
	}
	if s.sqlite != nil {
		closeDB(s.sqlite)
	}
}

// closeDB closes the database, logging any error to stderr.
func closeDB(database *sql.DB) {
	if err := database.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing database: %v\n", err)
	}
}
