package applications

// Application is a worker's single application to a task. It is immutable once created.
type Application struct {
	ID               string `gorm:"column:id;primaryKey;size:36;not null" json:"id"`
	TaskID           string `gorm:"column:task_id;size:190;not null;uniqueIndex:idx_applications_worker_task" json:"task_id"`
	WorkerID         string `gorm:"column:worker_id;size:190;not null;uniqueIndex:idx_applications_worker_task" json:"worker_id"`
	AnalysisID       string `gorm:"column:analysis_id;size:36;not null;index" json:"analysis_id"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null" json:"created_at_s"`
}

// TableName exposes the table backing applications.
func (Application) TableName() string {
	return "applications"
}
