package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stacksnap/snapferry/internal/backup"
	"github.com/stacksnap/snapferry/internal/config"
	"github.com/stacksnap/snapferry/internal/domain"
)

// mongoFlags binds connection flags that default to the environment.
func mongoFlags(cmd *cobra.Command, m *config.Mongo) {
	cmd.Flags().StringVar(&m.Host, "host", m.Host, "MongoDB host (MONGO_HOST)")
	cmd.Flags().StringVar(&m.Port, "port", m.Port, "MongoDB port (MONGO_PORT)")
	cmd.Flags().StringVar(&m.User, "user", m.User, "MongoDB user (MONGO_USER)")
	cmd.Flags().StringVar(&m.Password, "password", m.Password, "MongoDB password (MONGO_PASSWORD)")
	cmd.Flags().StringVar(&m.AuthDB, "auth-db", m.AuthDB, "Authentication database (MONGO_AUTH_DB)")
}

func mysqlFlags(cmd *cobra.Command, m *config.MySQL) {
	cmd.Flags().StringVar(&m.Host, "host", m.Host, "MySQL host (MYSQL_HOST)")
	cmd.Flags().StringVar(&m.Port, "port", m.Port, "MySQL port (MYSQL_PORT)")
	cmd.Flags().StringVar(&m.User, "user", m.User, "MySQL user (MYSQL_USER)")
	cmd.Flags().StringVar(&m.Password, "password", m.Password, "MySQL password (MYSQL_PASSWORD)")
}

func (a *app) runBackup(cmd *cobra.Command, opts backup.BackupOptions) error {
	svc, closeFn, err := a.service()
	if err != nil {
		return err
	}
	defer closeFn()

	res, err := svc.Backup(cmd.Context(), opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Backup complete: %s (%.2f MB in %s)\n",
		res.Archive,
		float64(res.Size)/(1024*1024),
		res.Duration.Round(time.Millisecond))
	if n := len(res.Retention.Deleted); n > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d expired archive(s)\n", n)
	}
	return nil
}

func (a *app) mongodbCmd() *cobra.Command {
	var db string
	mongo := a.cfg.Mongo

	cmd := &cobra.Command{
		Use:   "mongodb",
		Short: "Back up MongoDB and upload the archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBackup(cmd, backup.BackupOptions{Kind: domain.KindMongoDB, DB: db, Mongo: mongo})
		},
	}
	cmd.Flags().StringVar(&db, "db", "", "Database name (omit to dump all)")
	mongoFlags(cmd, &mongo)
	return cmd
}

func (a *app) mysqlCmd() *cobra.Command {
	var db string
	mysql := a.cfg.MySQL

	cmd := &cobra.Command{
		Use:   "mysql",
		Short: "Back up a MySQL database and upload the archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBackup(cmd, backup.BackupOptions{
				Kind:              domain.KindMySQL,
				DB:                db,
				MySQL:             mysql,
				SingleTransaction: mysql.SingleTransaction,
			})
		},
	}
	cmd.Flags().StringVar(&db, "db", "", "Database name")
	cmd.MarkFlagRequired("db")
	mysqlFlags(cmd, &mysql)
	cmd.Flags().BoolVar(&mysql.SingleTransaction, "single-transaction", mysql.SingleTransaction, "Use --single-transaction for consistency")
	return cmd
}

func (a *app) folderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "folder PATH",
		Short: "Archive a folder and upload it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBackup(cmd, backup.BackupOptions{Kind: domain.KindFolder, Folder: args[0]})
		},
	}
}
