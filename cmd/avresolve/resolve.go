package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/avresolve/internal/job"
	"github.com/John-Robertt/avresolve/internal/notify"
	"github.com/John-Robertt/avresolve/internal/store/memstore"
)

// inline 让 Submit 在同一进程内直接执行，不经过 Redis。
type inline struct{}

func (inline) Enqueue(context.Context, string) error { return nil }

func newResolveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve CODE",
		Short: "Resolve one code in-process and print the record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.RequireProxyPrefix(); err != nil {
				return err
			}
			ctx := cmd.Context()

			capturer := newCapturer(a.cfg, a.log)
			defer func() { _ = capturer.Close() }()
			orch, err := newOrchestrator(a.cfg, capturer, a.log, nil)
			if err != nil {
				return err
			}

			st := memstore.New()
			machine := &job.Machine{
				Store:    st,
				Notifier: notify.Log{Log: a.log},
				Resolver: orch,
				Enqueuer: inline{},
				Log:      a.log,
			}
			return resolveOnce(ctx, cmd, machine, st, args[0])
		},
	}
}

// resolveOnce 打印最终记录；作业失败时记录照常输出，并以 *job.FailedError 退出。
func resolveOnce(ctx context.Context, cmd *cobra.Command, m *job.Machine, st job.Store, raw string) error {
	rec, _, err := m.Submit(ctx, raw, true)
	if err != nil {
		return err
	}
	runErr := m.Run(ctx, rec.Code)
	if runErr != nil && !job.IsFailed(runErr) {
		return runErr
	}
	final, _, err := st.FindByCode(ctx, rec.Code)
	if err != nil {
		return err
	}
	if err := writeJSON(cmd.OutOrStdout(), final); err != nil {
		return err
	}
	return runErr
}
