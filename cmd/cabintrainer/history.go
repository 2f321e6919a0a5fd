package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zeusync/cabintrainer/internal/store"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var (
		db      string
		session string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded sessions, or the notifications of one session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("db") {
				db = root.app.Config.Store.Path
			}
			if db == "" {
				return fmt.Errorf("no progress log: pass --db or set store.path")
			}
			st, err := store.Open(db, root.app.Log)
			if err != nil {
				return err
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			if session == "" {
				list, err := st.Sessions(cmd.Context())
				if err != nil {
					return err
				}
				for _, s := range list {
					status := "incomplete"
					if s.Completed {
						status = "completed"
					}
					fmt.Fprintf(out, "%s  %s  %s  %s\n", s.ID, s.Started.Format("2006-01-02 15:04:05"), s.Scenario, status)
				}
				return nil
			}
			entries, err := st.History(cmd.Context(), session)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			for _, e := range entries {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&db, "db", "", "SQLite progress log")
	cmd.Flags().StringVar(&session, "session", "", "print the notifications of this session as JSON lines")
	return cmd
}
