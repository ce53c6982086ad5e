package main

import (
	"github.com/spf13/cobra"

	"github.com/stacksnap/snapferry/internal/logging"
	"github.com/stacksnap/snapferry/internal/scheduler"
)

func (a *app) scheduleCmd() *cobra.Command {
	var jobsPath string

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run backup jobs on cron schedules until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := scheduler.LoadJobs(jobsPath)
			if err != nil {
				return err
			}

			svc, closeFn, err := a.service()
			if err != nil {
				return err
			}
			defer closeFn()

			s := scheduler.New(svc, a.cfg, logging.Component("scheduler"))
			for _, job := range jobs {
				if err := s.Add(job); err != nil {
					return err
				}
			}
			return s.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&jobsPath, "jobs", "jobs.yaml", "Path to the jobs file")
	return cmd
}
