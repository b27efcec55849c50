package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/avresolve/internal/code"
	"github.com/John-Robertt/avresolve/internal/job"
	"github.com/John-Robertt/avresolve/internal/notify"
)

func newShowCmd(a *app) *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "show CODE",
		Short: "Print the stored record, optionally following live job events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := code.Classify(args[0])
			if id.Canonical == "" {
				return job.ErrEmptyCode
			}
			st, closeStore, err := openStore(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()

			rec, found, err := st.FindByCode(ctx, id.Canonical)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("没有 %s 的记录", id.Canonical)
			}
			if err := writeJSON(cmd.OutOrStdout(), rec); err != nil {
				return err
			}
			if !follow || !rec.Status.Active() {
				return nil
			}

			rdb := newRedis(a.cfg)
			defer func() { _ = rdb.Close() }()
			return followEvents(ctx, notify.NewRedis(rdb, a.log), id.Canonical, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream job events until the job finishes")
	return cmd
}

type eventSource interface {
	Last(ctx context.Context, code string) (notify.Envelope, bool, error)
	Subscribe(ctx context.Context, code string) <-chan notify.Envelope
}

// followEvents 先订阅再补读最后一条事件，避免两者之间漏掉终态。
func followEvents(ctx context.Context, src eventSource, videoCode string, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := src.Subscribe(ctx, videoCode)

	last, ok, err := src.Last(ctx, videoCode)
	if err != nil {
		return err
	}
	if ok {
		if err := writeJSON(w, last); err != nil {
			return err
		}
		if terminal(last.Event) {
			return nil
		}
	}
	for env := range events {
		if err := writeJSON(w, env); err != nil {
			return err
		}
		if terminal(env.Event) {
			return nil
		}
	}
	return ctx.Err()
}

func terminal(event string) bool {
	return event == job.EventCompleted || event == job.EventFailed
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
