package api

import (
	"errors"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"reelforge-server/config"
	"reelforge-server/models"
	"reelforge-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Pipe 是流水线编排器实例，main.go 启动时注入
var Pipe *service.Pipeline

func InitHandlers(p *service.Pipeline) {
	Pipe = p
}

// respondError 统一错误映射：前置条件 -> 400，记录不存在 -> 404，其他 -> 500
func respondError(c *gin.Context, err error) {
	var pre *service.PreconditionError
	if errors.As(err, &pre) {
		c.JSON(http.StatusBadRequest, gin.H{"error": pre.Message})
		return
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "项目未找到"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// 创建项目
func CreateProject(c *gin.Context) {
	var req struct {
		WorkspaceID     string `json:"workspace_id" binding:"required"`
		ChannelID       string `json:"channel_id"`
		CreatorID       string `json:"creator_id"`
		Title           string `json:"title"`
		Topic           string `json:"topic" binding:"required"`
		RequireApproval bool   `json:"require_approval"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	title := req.Title
	if title == "" {
		title = req.Topic
	}

	project := models.Project{
		ID:              uuid.NewString(),
		WorkspaceID:     req.WorkspaceID,
		ChannelID:       req.ChannelID,
		CreatorID:       req.CreatorID,
		Title:           title,
		Topic:           req.Topic,
		Status:          models.ProjectStatusDraft,
		RequireApproval: req.RequireApproval,
	}

	if err := models.CreateProject(&project); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建项目失败: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"project_id": project.ID,
		"status":     project.Status,
	})
}

// 获取项目详情（含时间轴/产物文档）
func GetProject(c *gin.Context) {
	projectID := c.Param("project_id")

	project, err := models.GetProjectByID(projectID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"project": project})
}

// 项目列表（按工作区）
func ListProjects(c *gin.Context) {
	workspaceID := c.Query("workspace_id")
	if workspaceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workspace_id 必填"})
		return
	}
	projects, err := models.ListProjectsByWorkspace(workspaceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects, "count": len(projects)})
}

// 更新项目标题/选题
func UpdateProject(c *gin.Context) {
	projectID := c.Param("project_id")
	var req struct {
		Title string `json:"title"`
		Topic string `json:"topic"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := models.UpdateProjectMeta(projectID, req.Title, req.Topic); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "更新项目失败: " + err.Error()})
		return
	}

	project, err := models.GetProjectByID(projectID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": project, "updateAt": project.UpdatedAt})
}

// 删除项目：数据库记录立即删，素材目录走后台清理任务（best-effort）
func DeleteProject(c *gin.Context) {
	projectID := c.Param("project_id")

	project, err := models.GetProjectByID(projectID)
	if err != nil {
		respondError(c, err)
		return
	}

	if err := models.DeleteProjectByID(projectID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "删除项目失败: " + err.Error()})
		return
	}

	dir := filepath.Join(config.AppConfig.Storage.Root, project.WorkspaceID, project.ID)
	if err := service.EnqueueCleanup(project.ID, dir); err != nil {
		// 清理是 best-effort，入队失败不影响删除结果
		log.Printf("清理任务入队失败: %v", err)
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"deleteAt": time.Now(),
		"message":  "项目已删除",
	})
}

// 提交审批
func SubmitForApproval(c *gin.Context) {
	project, err := Pipe.SubmitForApproval(c.Param("project_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project_id": project.ID, "status": project.Status})
}

// 审批通过/驳回
func ReviewProject(c *gin.Context) {
	var req struct {
		Approve bool `json:"approve"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	project, err := Pipe.ReviewProject(c.Param("project_id"), req.Approve)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project_id": project.ID, "status": project.Status})
}
