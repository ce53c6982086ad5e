package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stacksnap/snapferry/internal/backup"
	"github.com/stacksnap/snapferry/internal/domain"
)

func (a *app) verifyCmd() *cobra.Command {
	var (
		opts    backup.VerifyOptions
		kind    string
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that an archive is intact and holds what a restore needs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if kind != "" {
				k, err := domain.ParseKind(kind)
				if err != nil {
					return err
				}
				opts.Kind = k
			}

			svc, closeFn, err := a.service()
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := svc.Verify(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else if res.Verified {
				fmt.Fprintf(cmd.OutOrStdout(), "%s verified: %d files, %.2f MB\n", res.Archive, res.Files, float64(res.Bytes)/(1024*1024))
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s FAILED verification: %s\n", res.Archive, res.ErrorMessage)
			}
			if !res.Verified {
				return fmt.Errorf("archive %s failed verification", res.Archive)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "Archive kind: mongodb, mysql or folder (default: from the name)")
	cmd.Flags().StringVar(&opts.LocalArchive, "archive", "", "Local .tar.gz to verify")
	cmd.Flags().StringVar(&opts.RemoteName, "remote-file", "", "Remote archive name (default: latest of --kind)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the result as JSON")
	return cmd
}
