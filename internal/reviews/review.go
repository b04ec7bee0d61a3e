package reviews

// Review is an employer's rating of a worker on one of the employer's tasks. There is at most
// one review per (task, worker, company); resubmitting overwrites it.
type Review struct {
	ID                string `gorm:"column:id;primaryKey;size:36;not null" json:"id"`
	TaskID            string `gorm:"column:task_id;size:190;not null;uniqueIndex:idx_worker_reviews_task_worker_company" json:"task_id"`
	WorkerID          string `gorm:"column:worker_id;size:190;not null;uniqueIndex:idx_worker_reviews_task_worker_company;index" json:"worker_id"`
	CompanyID         string `gorm:"column:company_id;size:190;not null;uniqueIndex:idx_worker_reviews_task_worker_company" json:"company_id"`
	QualityRating     *int   `gorm:"column:quality_rating" json:"quality_rating"`
	TimelinessRating  *int   `gorm:"column:timeliness_rating" json:"timeliness_rating"`
	ReliabilityRating *int   `gorm:"column:reliability_rating" json:"reliability_rating"`
	OverallRating     int    `gorm:"column:overall_rating;not null" json:"overall_rating"`
	FeedbackText      string `gorm:"column:feedback_text;type:text" json:"feedback_text"`
	CreatedAtSeconds  int64  `gorm:"column:created_at_s;not null" json:"created_at_s"`
	UpdatedAtSeconds  int64  `gorm:"column:updated_at_s;not null" json:"updated_at_s"`
}

// TableName exposes the table backing reviews.
func (Review) TableName() string {
	return "worker_reviews"
}
