package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newSyncCmd(version string) *cobra.Command {
	var instanceIDs []int64

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize accounts and privileges now",
		Long:  "Synchronizes every active instance, or only those given with --instance.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cmd, version)
			if err != nil {
				return err
			}
			defer a.close()

			batch, err := a.batch.SyncInstances(a.scope(ctx), instanceIDs)
			if err != nil {
				return err
			}

			summaries := batch.Summaries()
			if getOutputFormat(cmd) == "json" {
				if err := printJSON(cmd.OutOrStdout(), map[string]any{
					"total":     batch.Total,
					"succeeded": batch.Succeeded,
					"failed":    batch.Failed,
					"instances": summaries,
				}); err != nil {
					return err
				}
			} else {
				rows := make([][]string, 0, len(summaries))
				for _, s := range summaries {
					row := []string{strconv.FormatInt(s.InstanceID, 10), s.InstanceName, string(s.DBType), "-", "-", "-", "-", s.Error}
					if s.Inventory != nil {
						row[3] = strconv.Itoa(s.Inventory.ActiveCount)
						row[4] = strconv.Itoa(s.Inventory.Created)
						row[5] = strconv.Itoa(s.Inventory.Deactivated)
					}
					if s.Permissions != nil {
						row[6] = strconv.Itoa(s.Permissions.Added + s.Permissions.PrivilegeChanged + s.Permissions.OtherChanged)
					}
					if s.Error == "" && len(s.EnrichFailures) > 0 {
						row[7] = fmt.Sprintf("%d account(s) not enriched", len(s.EnrichFailures))
					}
					rows = append(rows, row)
				}
				if err := printTable(cmd.OutOrStdout(),
					[]string{"id", "name", "db_type", "active", "created", "deactivated", "changes", "error"}, rows); err != nil {
					return err
				}
			}

			if batch.Failed > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d instance syncs failed\n", batch.Failed, batch.Total)
				return errReported
			}
			return nil
		},
	}

	cmd.Flags().Int64SliceVar(&instanceIDs, "instance", nil, "Instance ID to synchronize (repeatable)")
	return cmd
}
