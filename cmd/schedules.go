package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/compliance-archiver/internal/capture"
	queuememory "github.com/JakeFAU/compliance-archiver/internal/queue/memory"
)

// newRunSchedulesCmd fires every enabled schedule once. An external trigger
// (Cloud Scheduler, cron) invokes it; cron expressions are not evaluated here.
func newRunSchedulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-schedules",
		Short: "Submit one capture for every enabled schedule",
		Long: `Lists enabled schedules and submits a capture for each. With a Pub/Sub job
queue the captures are enqueued for the serve workers; with the in-process
queue they run synchronously in this process.`,
		Args: cobra.NoArgs,
		RunE: runSchedules,
	}
}

func runSchedules(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	schedules, err := a.Schedules.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("list enabled schedules: %w", err)
	}
	_, inProcess := a.Queue.(*queuememory.Queue)

	failed := 0
	for _, sch := range schedules {
		logger := a.Logger.With(zap.String("schedule_id", sch.ID), zap.String("url", sch.URL))
		if inProcess {
			result, err := a.Pipeline.Run(ctx, sch.Request())
			if err != nil || result.Status != capture.StatusCompleted {
				failed++
				logger.Error("scheduled capture failed", zap.Error(err))
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tcaptured\t%s\n", sch.ID, result.ID)
			continue
		}
		job, err := a.Dispatcher.Submit(ctx, sch.Request(), capture.SourceSchedule, sch.ID)
		if err != nil {
			failed++
			logger.Error("scheduled capture enqueue failed", zap.Error(err))
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\tqueued\t%s\n", sch.ID, job.ID)
	}
	a.Logger.Info("schedules fired", zap.Int("total", len(schedules)), zap.Int("failed", failed))
	if failed > 0 {
		return fmt.Errorf("%d of %d schedules failed", failed, len(schedules))
	}
	return nil
}
