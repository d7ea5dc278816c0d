// cmd/sql-assistant/worker.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sql-assistant/internal/common/camunda"
	answerquestion "sql-assistant/internal/workers/answer-question"
)

func workerCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the answer-question Zeebe job worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			a, err := bootstrap(ctx, *cfgPath, "sql-assistant-worker")
			if err != nil {
				return err
			}
			defer a.Close()

			orch, err := a.buildPipeline(ctx)
			if err != nil {
				return err
			}
			store, err := a.sessions()
			if err != nil {
				return err
			}

			handler, err := answerquestion.NewHandler(answerquestion.HandlerOptions{
				AppConfig: a.cfg,
				Runner:    orch,
				Sessions:  store,
				Logger:    a.log,
			})
			if err != nil {
				return err
			}
			if !handler.Config().Enabled {
				return fmt.Errorf("worker %s is disabled in configuration", answerquestion.TaskType)
			}

			zeebe, err := camunda.NewClientWithConfig(ctx, camunda.ConfigFromApp(a.cfg.Camunda))
			if err != nil {
				return err
			}
			defer zeebe.Close()
			a.zapLog.Info("Zeebe client connected successfully")

			w := camunda.NewWorker(zeebe.GetClient(), camunda.WorkerOptions{
				TaskType:      answerquestion.TaskType,
				MaxJobsActive: handler.Config().MaxJobsActive,
				Timeout:       handler.Config().Timeout,
			}, handler, a.log)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			<-sigCh

			a.zapLog.Info("Shutdown signal received, stopping workers...", zap.String("taskType", answerquestion.TaskType))
			w.Stop()
			return nil
		},
	}
}
