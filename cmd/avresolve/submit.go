package main

import (
	"github.com/spf13/cobra"

	"github.com/John-Robertt/avresolve/internal/domain"
	"github.com/John-Robertt/avresolve/internal/job"
	"github.com/John-Robertt/avresolve/internal/notify"
)

type submitOutput struct {
	Enqueued bool               `json:"enqueued"`
	Video    domain.VideoRecord `json:"video"`
}

func newSubmitCmd(a *app) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "submit CODE",
		Short: "Queue a code for resolution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, closeStore, err := openStore(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()

			rdb := newRedis(a.cfg)
			defer func() { _ = rdb.Close() }()
			q := newQueue(a.cfg, rdb, a.log)
			if err := q.Init(ctx); err != nil {
				return err
			}

			machine := &job.Machine{
				Store:      st,
				Notifier:   notify.NewRedis(rdb, a.log),
				Enqueuer:   q,
				Log:        a.log,
				StaleAfter: a.cfg.Worker.LockTTL,
			}
			rec, enqueued, err := machine.Submit(ctx, args[0], refresh)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), submitOutput{Enqueued: enqueued, Video: rec})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Re-run a completed code")
	return cmd
}
