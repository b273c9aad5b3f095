package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd(version string) *cobra.Command {
	var (
		instanceID int64
		username   string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the change log of one account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 1 {
				return errors.New("--limit must be at least 1")
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cmd, version)
			if err != nil {
				return err
			}
			defer a.close()

			entries, err := a.changeLog.ListByAccount(a.scope(ctx), instanceID, username, limit)
			if err != nil {
				return err
			}
			return render(cmd, entries,
				[]string{"time", "change", "summary", "session"},
				func() [][]string {
					rows := make([][]string, 0, len(entries))
					for _, e := range entries {
						rows = append(rows, []string{
							e.ChangeTime.In(a.loc).Format(time.DateTime),
							string(e.ChangeType),
							e.Summary,
							e.SessionID,
						})
					}
					return rows
				})
		},
	}

	cmd.Flags().Int64Var(&instanceID, "instance", 0, "Instance ID")
	cmd.Flags().StringVar(&username, "username", "", "Account username as reported by the instance")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of entries, newest first")
	_ = cmd.MarkFlagRequired("instance")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}
