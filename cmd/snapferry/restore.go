package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stacksnap/snapferry/internal/backup"
	"github.com/stacksnap/snapferry/internal/domain"
)

func (a *app) restoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore from a local archive or one fetched from the remote",
	}
	cmd.AddCommand(a.restoreMongoCmd())
	cmd.AddCommand(a.restoreMySQLCmd())
	cmd.AddCommand(a.restoreFolderCmd())
	return cmd
}

// sourceFlags binds the archive selection shared by every restore.
func sourceFlags(cmd *cobra.Command, opts *backup.RestoreOptions) {
	cmd.Flags().StringVar(&opts.LocalArchive, "archive", "", "Local .tar.gz to restore")
	cmd.Flags().StringVar(&opts.RemoteName, "remote-file", "", "Remote archive name to download (default: latest)")
}

func (a *app) runRestore(cmd *cobra.Command, opts backup.RestoreOptions) error {
	svc, closeFn, err := a.service()
	if err != nil {
		return err
	}
	defer closeFn()

	res, err := svc.Restore(cmd.Context(), opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Restore complete: %s restored in %s\n", res.Archive, res.Duration.Round(time.Millisecond))
	return nil
}

func (a *app) restoreMongoCmd() *cobra.Command {
	opts := backup.RestoreOptions{Kind: domain.KindMongoDB, Mongo: a.cfg.Mongo, Drop: a.cfg.Mongo.Drop}

	cmd := &cobra.Command{
		Use:   "mongodb",
		Short: "Restore MongoDB from an archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRestore(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.DB, "db", "", "Target database (omit to restore everything in the dump)")
	sourceFlags(cmd, &opts)
	mongoFlags(cmd, &opts.Mongo)
	cmd.Flags().BoolVar(&opts.Drop, "drop", opts.Drop, "Drop collections before restoring")
	return cmd
}

func (a *app) restoreMySQLCmd() *cobra.Command {
	opts := backup.RestoreOptions{Kind: domain.KindMySQL, MySQL: a.cfg.MySQL}

	cmd := &cobra.Command{
		Use:   "mysql",
		Short: "Restore a MySQL database from an SQL archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRestore(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.DB, "db", "", "Target database name")
	cmd.MarkFlagRequired("db")
	sourceFlags(cmd, &opts)
	mysqlFlags(cmd, &opts.MySQL)
	return cmd
}

func (a *app) restoreFolderCmd() *cobra.Command {
	opts := backup.RestoreOptions{Kind: domain.KindFolder}

	cmd := &cobra.Command{
		Use:   "folder DEST",
		Short: "Restore a folder backup into DEST",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Dest = args[0]
			return a.runRestore(cmd, opts)
		},
	}
	sourceFlags(cmd, &opts)
	cmd.Flags().BoolVar(&opts.Overwrite, "overwrite", false, "Overwrite existing files")
	return cmd
}
