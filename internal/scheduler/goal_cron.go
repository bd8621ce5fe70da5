package scheduler

import (
	"context"

	"github.com/estoque-labs/goal-engine/internal/config"
	"github.com/estoque-labs/goal-engine/internal/models"
	"github.com/estoque-labs/goal-engine/internal/services"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// StartGoalCronJobs wires the scheduled engine operations. The cron layer is
// just an external caller on a timer; all semantics live in the services.
func StartGoalCronJobs(cfg *config.Config, goalService *services.GoalService) *cron.Cron {
	c := cron.New()

	mustAdd(c, cfg.DailySummaryCron, "daily summary", func() {
		if err := goalService.SendPeriodicSummary(context.Background(), models.PeriodDaily); err != nil {
			logrus.WithError(err).Error("SendPeriodicSummary(daily) failed")
		}
	})

	mustAdd(c, cfg.WeeklyReportCron, "weekly report", func() {
		if err := goalService.SendPeriodicSummary(context.Background(), models.PeriodWeekly); err != nil {
			logrus.WithError(err).Error("SendPeriodicSummary(weekly) failed")
		}
	})

	mustAdd(c, cfg.UnmetReminderCron, "unmet reminders", func() {
		if err := goalService.SendUnmetReminders(context.Background(), models.PeriodDaily); err != nil {
			logrus.WithError(err).Error("SendUnmetReminders failed")
		}
	})

	mustAdd(c, cfg.LowPerformanceCron, "underperformance alerts", func() {
		if err := goalService.SendUnderperformanceAlerts(context.Background(), models.PeriodDaily, services.LowPerformanceRatio); err != nil {
			logrus.WithError(err).Error("SendUnderperformanceAlerts failed")
		}
	})

	c.Start()
	return c
}

func mustAdd(c *cron.Cron, spec, name string, job func()) {
	if _, err := c.AddFunc(spec, job); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"job":  name,
			"spec": spec,
		}).Error("Failed to schedule cron job")
	}
}
