package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
)

// passwordEnv holds the login password for `instances add`, kept off the command line.
const passwordEnv = "WHALEFALL_INSTANCE_PASSWORD"

func newInstancesCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instances",
		Short: "Register and list managed instances",
	}
	cmd.AddCommand(newInstancesAddCmd(version), newInstancesListCmd(version))
	return cmd
}

type instanceFlags struct {
	name     string
	dbType   string
	host     string
	port     int
	database string
	username string
}

// build validates the flags and returns the instance to register.
func (f *instanceFlags) build(password string) (*models.Instance, error) {
	dbType, err := models.ParseDBType(f.dbType)
	if err != nil {
		return nil, err
	}
	if f.name == "" || f.host == "" || f.username == "" {
		return nil, errors.New("--name, --host and --username are required")
	}
	if f.port < 1 || f.port > 65535 {
		return nil, fmt.Errorf("invalid --port %d", f.port)
	}
	if password == "" {
		return nil, fmt.Errorf("%s is not set", passwordEnv)
	}
	return &models.Instance{
		Name:         f.name,
		DBType:       dbType,
		Host:         f.host,
		Port:         f.port,
		DatabaseName: f.database,
		IsActive:     true,
		Credential:   &models.Credential{Username: f.username, Password: password},
	}, nil
}

func newInstancesAddCmd(version string) *cobra.Command {
	var f instanceFlags

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an instance",
		Long:  "Registers an instance. The login password is read from " + passwordEnv + " and stored encrypted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			instance, err := f.build(os.Getenv(passwordEnv))
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cmd, version)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.db.WithTx(ctx, func(ctx context.Context) error {
				return a.instances.Create(ctx, instance)
			}); err != nil {
				return err
			}
			return renderInstances(cmd, []*models.Instance{instance})
		},
	}

	cmd.Flags().StringVar(&f.name, "name", "", "Display name")
	cmd.Flags().StringVar(&f.dbType, "db-type", "", "Engine (mysql, postgresql, sqlserver, oracle)")
	cmd.Flags().StringVar(&f.host, "host", "", "Host name or address")
	cmd.Flags().IntVar(&f.port, "port", 0, "Port")
	cmd.Flags().StringVar(&f.database, "database", "", "Default database or Oracle service name")
	cmd.Flags().StringVar(&f.username, "username", "", "Login used to inspect the instance")
	return cmd
}

func newInstancesListCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active instances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cmd, version)
			if err != nil {
				return err
			}
			defer a.close()

			instances, err := a.instances.ListActive(a.scope(ctx))
			if err != nil {
				return err
			}
			return renderInstances(cmd, instances)
		},
	}
}

func renderInstances(cmd *cobra.Command, instances []*models.Instance) error {
	return render(cmd, instances,
		[]string{"id", "name", "db_type", "host", "port", "database"},
		func() [][]string {
			rows := make([][]string, 0, len(instances))
			for _, i := range instances {
				rows = append(rows, []string{
					strconv.FormatInt(i.ID, 10),
					i.Name,
					string(i.DBType),
					i.Host,
					strconv.Itoa(i.Port),
					i.DatabaseName,
				})
			}
			return rows
		})
}
