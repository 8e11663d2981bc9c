package models

import "time"

// 项目状态常量（生成流水线的状态机，业务层统一使用这些值）
const (
	ProjectStatusDraft             = "draft"              // 项目已创建，未开始任何生成
	ProjectStatusResearching       = "researching"        // 正在做选题调研 + 脚本生成
	ProjectStatusScriptReady       = "script-ready"       // 脚本已生成
	ProjectStatusVoiceoverUploaded = "voiceover-uploaded" // 配音已上传，时间轴已对齐
	ProjectStatusImagesReady       = "images-ready"       // 分镜图片获取完成（允许个别缺失）
	ProjectStatusVideosReady       = "videos-ready"       // 分镜 AI 视频生成完成（至少一个成功）
	ProjectStatusPendingApproval   = "pending-approval"   // 等待审批（工作区策略开启时）
	ProjectStatusApproved          = "approved"
	ProjectStatusRejected          = "rejected"
	ProjectStatusProcessing        = "processing" // 正在合成最终视频
	ProjectStatusCompleted         = "completed"  // 最终视频已生成
	ProjectStatusFailed            = "failed"     // 流水线关键阶段出错，可重新触发对应阶段
)

// 分镜图片来源
const (
	ImageSourceAIGenerated = "ai-generated"
	ImageSourceStock       = "stock"
	ImageSourceUploaded    = "uploaded"
)

// Project 是生成流水线的聚合根。workspace/channel/creator 是外部租户模型的外键，
// 这里只存引用，不做级联。各生成产物（脚本/调研/配音/时间轴/产出）以 JSON 列整体读写。
type Project struct {
	ID              string           `gorm:"primaryKey;type:varchar(64)" json:"id"`
	WorkspaceID     string           `gorm:"type:varchar(64);index" json:"workspaceId"`
	ChannelID       string           `gorm:"type:varchar(64)" json:"channelId"`
	CreatorID       string           `gorm:"type:varchar(64)" json:"creatorId"`
	Title           string           `json:"title"`
	Topic           string           `gorm:"type:text" json:"topic"`
	Status          string           `json:"status"`
	RequireApproval bool             `json:"requireApproval"`
	Script          *Script          `gorm:"type:json" json:"script,omitempty"`
	ResearchData    *ResearchData    `gorm:"type:json" json:"researchData,omitempty"`
	Voiceover       *Voiceover       `gorm:"type:json" json:"voiceover,omitempty"`
	WhisperAnalysis *WhisperAnalysis `gorm:"type:json" json:"whisperAnalysis,omitempty"`
	Timeline        *Timeline        `gorm:"type:json" json:"timeline,omitempty"`
	Output          *Output          `gorm:"type:json" json:"output,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

func (Project) TableName() string {
	return "project"
}
