package model

import "time"

// Repository 已上传并解压到本地的代码仓库
type Repository struct {
	ID       int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Name     string `gorm:"type:varchar(255);not null" json:"name"`
	FullName string `gorm:"type:varchar(512);not null;index" json:"full_name"`

	LocalPath string `gorm:"type:varchar(1024);not null" json:"local_path"`
	Status    string `gorm:"type:varchar(20);not null;default:'active'" json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Repository) TableName() string {
	return "repositories"
}
