package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/stacksnap/snapferry/internal/domain"
)

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "list [mongodb|mysql|folder]",
		Short:     "List remote archives, newest first",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"mongodb", "mysql", "folder"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var kind domain.Kind
			if len(args) == 1 {
				k, err := domain.ParseKind(args[0])
				if err != nil {
					return err
				}
				kind = k
			}

			svc, closeFn, err := a.service()
			if err != nil {
				return err
			}
			defer closeFn()

			entries, err := svc.List(cmd.Context(), kind)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No backups found.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ARCHIVE\tCREATED (UTC)\tAGE")
			now := time.Now()
			for _, e := range entries {
				created, age := "-", "-"
				if e.Dated {
					created = e.Timestamp.Format(time.DateTime)
					age = now.Sub(e.Timestamp).Round(time.Minute).String()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", e.Name, created, age)
			}
			return w.Flush()
		},
	}
}
