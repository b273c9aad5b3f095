package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/nyealovey/WhaleFall-sub003/pkg/apperrors"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
	"github.com/nyealovey/WhaleFall-sub003/pkg/policy"
	"github.com/nyealovey/WhaleFall-sub003/pkg/services"
)

func newRulesCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Validate and manage classification rules",
	}
	cmd.AddCommand(
		newRulesValidateCmd(),
		newRulesCreateCmd(version),
		newRulesUpdateCmd(version),
		newRulesDeactivateCmd(version),
		newRulesShowCmd(version),
	)
	return cmd
}

func readExpression(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return json.RawMessage(data), nil
}

func newRulesValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Validate a rule expression file offline",
		Long:  "Checks a DSL v4 rule expression without contacting the audit store.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readExpression(args[0])
			if err != nil {
				return err
			}

			var problems []string
			if err := policy.Validate(raw); err != nil {
				var ve *apperrors.ValidationError
				if !errors.As(err, &ve) {
					return err
				}
				problems = ve.Problems
			}

			out := cmd.OutOrStdout()
			if getOutputFormat(cmd) == "json" {
				if err := printJSON(out, map[string]any{
					"valid":  len(problems) == 0,
					"errors": problems,
				}); err != nil {
					return err
				}
			} else if len(problems) == 0 {
				_, _ = fmt.Fprintln(out, "Expression is valid.")
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "Expression has %d validation error(s):\n", len(problems))
				for _, p := range problems {
					fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", p)
				}
			}

			if len(problems) > 0 {
				return errReported
			}
			return nil
		},
	}
}

func renderRule(cmd *cobra.Command, rule *models.ClassificationRule) error {
	return render(cmd, rule,
		[]string{"id", "group", "version", "classification", "db_type", "name", "active"},
		func() [][]string {
			return [][]string{{
				strconv.FormatInt(rule.ID, 10),
				rule.RuleGroupID,
				strconv.Itoa(rule.RuleVersion),
				strconv.FormatInt(rule.ClassificationID, 10),
				string(rule.DBType),
				rule.RuleName,
				strconv.FormatBool(rule.IsActive),
			}}
		})
}

func newRulesCreateCmd(version string) *cobra.Command {
	var req services.CreateRuleRequest

	cmd := &cobra.Command{
		Use:   "create FILE",
		Short: "Create a rule from an expression file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readExpression(args[0])
			if err != nil {
				return err
			}
			req.Expression = raw

			ctx := cmd.Context()
			a, err := newApp(ctx, cmd, version)
			if err != nil {
				return err
			}
			defer a.close()

			rule, err := a.rules.CreateRule(a.scope(ctx), &req)
			if err != nil {
				return err
			}
			return renderRule(cmd, rule)
		},
	}

	cmd.Flags().Int64Var(&req.ClassificationID, "classification", 0, "Classification ID")
	cmd.Flags().StringVar(&req.DBType, "db-type", "", "Engine the rule applies to (mysql, postgresql, sqlserver, oracle)")
	cmd.Flags().StringVar(&req.RuleName, "name", "", "Rule name")
	_ = cmd.MarkFlagRequired("classification")
	_ = cmd.MarkFlagRequired("db-type")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func parseRuleID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid rule ID %q", arg)
	}
	return id, nil
}

func newRulesUpdateCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "update RULE_ID FILE",
		Short: "Store a new version of a rule's expression",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRuleID(args[0])
			if err != nil {
				return err
			}
			raw, err := readExpression(args[1])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cmd, version)
			if err != nil {
				return err
			}
			defer a.close()

			rule, err := a.rules.UpdateRuleExpression(a.scope(ctx), id, raw)
			if err != nil {
				return err
			}
			return renderRule(cmd, rule)
		},
	}
}

func newRulesDeactivateCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate RULE_ID",
		Short: "Deactivate a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRuleID(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cmd, version)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.rules.DeactivateRule(a.scope(ctx), id); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Rule %d deactivated.\n", id)
			return err
		},
	}
}

func newRulesShowCmd(version string) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "show GROUP_ID",
		Short: "Show the version of a rule group in force at a point in time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			when := time.Now()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at %q: expected RFC 3339", at)
				}
				when = t
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cmd, version)
			if err != nil {
				return err
			}
			defer a.close()

			rule, err := a.rules.GetRuleAsOf(a.scope(ctx), args[0], when)
			if err != nil {
				return err
			}
			return renderRule(cmd, rule)
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "Point in time as RFC 3339 (default: now)")
	return cmd
}
