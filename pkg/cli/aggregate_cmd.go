package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/nyealovey/WhaleFall-sub003/pkg/services"
)

// parseStatDate parses a YYYY-MM-DD flag; empty means today in loc.
func parseStatDate(value string, loc *time.Location) (time.Time, error) {
	if value == "" {
		return services.Today(loc), nil
	}
	t, err := time.ParseInLocation(services.StatDateLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q: expected YYYY-MM-DD", value)
	}
	return services.NormalizeStatDate(t), nil
}

func newAggregateCmd(version string) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Compute daily rule and classification match statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cmd, version)
			if err != nil {
				return err
			}
			defer a.close()

			statDate, err := parseStatDate(date, a.loc)
			if err != nil {
				return err
			}
			summary, err := a.aggregation.Aggregate(a.scope(ctx), statDate)
			if err != nil {
				return err
			}

			return render(cmd, summary,
				[]string{"stat_date", "rules", "skipped", "accounts", "rule_rows", "classification_rows", "eval_errors"},
				func() [][]string {
					return [][]string{{
						summary.StatDate,
						strconv.Itoa(summary.RulesEvaluated),
						strconv.Itoa(summary.RulesSkipped),
						strconv.Itoa(summary.AccountsEvaluated),
						strconv.Itoa(summary.RuleRows),
						strconv.Itoa(summary.ClassificationRows),
						strconv.Itoa(summary.EvaluationErrors),
					}}
				})
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Statistics date as YYYY-MM-DD (default: today in the configured time zone)")
	return cmd
}
