package db

// TaskOrderEntry is one slot of a queue's persisted Task Order.
type TaskOrderEntry struct {
	QueueID  string `gorm:"column:queue_id;primaryKey"`
	Position int    `gorm:"column:position;primaryKey"`
	TaskID   string `gorm:"column:task_id;not null"`
}

func (TaskOrderEntry) TableName() string { return "task_order" }

type ServerSession struct {
	ServerURL string `gorm:"column:server_url;primaryKey"`
	Token     string `gorm:"column:token;not null;default:''"`
	UpdatedAt int64  `gorm:"column:updated_at;not null;default:0"`
}

func (ServerSession) TableName() string { return "server_sessions" }
