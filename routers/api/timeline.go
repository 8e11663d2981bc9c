package api

import (
	"net/http"
	"strconv"

	"reelforge-server/models"

	"github.com/gin-gonic/gin"
)

// UpdateTimeline 整体替换时间轴（编辑器整体提交）
func UpdateTimeline(c *gin.Context) {
	var req struct {
		Timeline models.Timeline `json:"timeline" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := Pipe.UpdateTimeline(c.Param("project_id"), &req.Timeline)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project_id": project.ID, "timeline": project.Timeline})
}

// AddScene 在指定位置插入分镜，order 为 query 参数，缺省追加到末尾
func AddScene(c *gin.Context) {
	var scene models.TimelineScene
	if err := c.ShouldBindJSON(&scene); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	order := -1
	if s := c.Query("order"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "order 必须是整数"})
			return
		}
		order = n
	}

	project, err := Pipe.AddScene(c.Param("project_id"), scene, order)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project_id": project.ID, "timeline": project.Timeline})
}

// RemoveScene 按 id 删除分镜
func RemoveScene(c *gin.Context) {
	project, err := Pipe.RemoveScene(c.Param("project_id"), c.Param("scene_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project_id": project.ID, "timeline": project.Timeline})
}
