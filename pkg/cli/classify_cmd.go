package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

func newClassifyCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "classify",
		Short: "Refresh automatic classification assignments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cmd, version)
			if err != nil {
				return err
			}
			defer a.close()

			summary, err := a.classification.RefreshAutoAssignments(a.scope(ctx))
			if err != nil {
				return err
			}
			return render(cmd, summary,
				[]string{"rules", "assigned", "updated", "kept", "removed"},
				func() [][]string {
					return [][]string{{
						strconv.Itoa(summary.RulesEvaluated),
						strconv.Itoa(summary.Assigned),
						strconv.Itoa(summary.Updated),
						strconv.Itoa(summary.Kept),
						strconv.Itoa(summary.Removed),
					}}
				})
		},
	}
}
