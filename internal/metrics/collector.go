package metrics

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Winger29/FSDP-Assignment2/internal/logging"
	"github.com/Winger29/FSDP-Assignment2/pkg/models"
)

// BusinessMetricsCollector refreshes the business gauges from the database
type BusinessMetricsCollector struct {
	db      *gorm.DB
	metrics *Metrics
}

// NewBusinessMetricsCollector creates a new business metrics collector
func NewBusinessMetricsCollector(db *gorm.DB) *BusinessMetricsCollector {
	return &BusinessMetricsCollector{db: db, metrics: Get()}
}

// Collect runs a single collection pass
func (bmc *BusinessMetricsCollector) Collect(ctx context.Context) {
	db := bmc.db.WithContext(ctx)

	var users, agents, teams int64
	if err := db.Model(&models.User{}).Count(&users).Error; err != nil {
		logging.L().Warn("metrics: count users failed", zap.Error(err))
		return
	}
	db.Model(&models.Agent{}).Count(&agents)
	db.Model(&models.Team{}).Where("is_archived = ?", false).Count(&teams)

	bmc.metrics.TotalUsersGauge.Set(float64(users))
	bmc.metrics.TotalAgentsGauge.Set(float64(agents))
	bmc.metrics.TotalTeamsGauge.Set(float64(teams))

	var rows []struct {
		Status models.TaskStatus
		Count  int64
	}
	db.Model(&models.CollaborativeTask{}).Select("status, count(*) as count").Group("status").Scan(&rows)

	for _, status := range []models.TaskStatus{models.TaskPending, models.TaskInProgress, models.TaskCompleted} {
		bmc.metrics.TasksByStatus.WithLabelValues(string(status)).Set(0)
	}
	for _, row := range rows {
		bmc.metrics.TasksByStatus.WithLabelValues(string(row.Status)).Set(float64(row.Count))
	}
}
