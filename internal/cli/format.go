package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/evcraddock/incident-board/internal/user"
)

// printJSON marshals v as indented JSON and writes it to w.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printUserTable prints users as a formatted table.
func printUserTable(out io.Writer, users []*user.User) error {
	if len(users) == 0 {
		fmt.Fprintln(out, "No users found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(w, "NAME\tID\tCREATED"); err != nil {
		return fmt.Errorf("writing table header: %w", err)
	}
	if _, err := fmt.Fprintln(w, "----\t--\t-------"); err != nil {
		return fmt.Errorf("writing table separator: %w", err)
	}

	for _, u := range users {
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\n",
			truncate(u.Name, 32), u.ID, u.CreatedAt.Local().Format("2006-01-02 15:04")); err != nil {
			return fmt.Errorf("writing table row: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing table: %w", err)
	}

	fmt.Fprintf(out, "\nTotal: %s\n", plural(len(users), "user", "users"))
	return nil
}

// printStats prints a user's profile counts in text format.
func printStats(out io.Writer, st userStats) {
	fmt.Fprintf(out, "User:               %s\n", st.Name)
	fmt.Fprintf(out, "Posts:              %d\n", st.TotalPosts)
	fmt.Fprintf(out, "Posts commented on: %d\n", st.TotalComments)
}

func plural(n int, singular, plural string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%d %s", n, plural)
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
