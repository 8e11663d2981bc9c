package models

import "time"

// WorkspaceCredential 保存某工作区对某后端（groq/openai/pexels/...）的 API Key。
// 加密与用户管理由外部账号层负责，这里只做"某后端是否有凭证"的查询。
type WorkspaceCredential struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	WorkspaceID string    `gorm:"type:varchar(64);index:idx_ws_backend,unique" json:"workspaceId"`
	Backend     string    `gorm:"type:varchar(32);index:idx_ws_backend,unique" json:"backend"`
	APIKey      string    `gorm:"type:text" json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (WorkspaceCredential) TableName() string {
	return "workspace_credential"
}

func GetCredential(workspaceID, backend string) (string, error) {
	var c WorkspaceCredential
	if err := GormDB.First(&c, "workspace_id = ? AND backend = ?", workspaceID, backend).Error; err != nil {
		return "", err
	}
	return c.APIKey, nil
}
