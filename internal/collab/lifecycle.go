package collab

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/Winger29/FSDP-Assignment2/pkg/models"
)

// transition moves the tasks matched by q from one status to another, setting
// fields alongside. It refuses moves the task lifecycle does not allow and
// only touches rows still in from, so callers learn from the row count
// whether they won.
func transition(q *gorm.DB, from, to models.TaskStatus, fields map[string]interface{}) (int64, error) {
	if !from.CanTransition(to) {
		return 0, fmt.Errorf("illegal task transition %s -> %s", from, to)
	}
	updates := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates["status"] = to

	res := q.Where("status = ?", from).Updates(updates)
	return res.RowsAffected, res.Error
}

// owned scopes db to this run's task row while the run still holds it
func (r *run) owned(db *gorm.DB) *gorm.DB {
	return db.Model(&models.CollaborativeTask{}).Where("id = ? AND run_id = ?", r.task.ID, r.task.RunID)
}

// requireOwnership fails with errRunSuperseded once the task has been reset
// or claimed by another run
func (r *run) requireOwnership(tx *gorm.DB) error {
	var n int64
	if err := r.owned(tx).Where("status = ?", models.TaskInProgress).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return errRunSuperseded
	}
	return nil
}
