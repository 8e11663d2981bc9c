package api

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"reelforge-server/config"
	"reelforge-server/models"
	"reelforge-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// StartResearch 触发选题调研 + 脚本生成，同步执行到 script-ready 再返回
func StartResearch(c *gin.Context) {
	var req struct {
		TextBackend  string `json:"text_backend"`  // groq / openai，空则按凭证自动选
		DurationHint int    `json:"duration_hint"` // 目标时长（秒），0 取默认 60
		Tone         string `json:"tone"`          // 口播语气，空则不限定
	}
	// body 可省略
	_ = c.ShouldBindJSON(&req)

	project, err := Pipe.StartResearch(c.Request.Context(), c.Param("project_id"), req.TextBackend, req.DurationHint, req.Tone)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"project_id":    project.ID,
		"status":        project.Status,
		"script":        project.Script,
		"research_data": project.ResearchData,
	})
}

// UploadVoiceover 接收配音 multipart 文件：落盘、量时长、转写、对齐时间轴
func UploadVoiceover(c *gin.Context) {
	projectID := c.Param("project_id")

	project, err := models.GetProjectByID(projectID)
	if err != nil {
		respondError(c, err)
		return
	}

	file, err := c.FormFile("audio")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 audio 文件字段: " + err.Error()})
		return
	}
	ext := strings.ToLower(filepath.Ext(file.Filename))
	switch ext {
	case ".mp3", ".wav", ".m4a", ".aac", ".ogg":
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("不支持的音频格式: %s", ext)})
		return
	}

	destDir := filepath.Join(config.AppConfig.Storage.Root, project.WorkspaceID, project.ID)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建存储目录失败: " + err.Error()})
		return
	}
	// 随机文件名避免并发上传冲突
	audioPath := filepath.Join(destDir, "voiceover_"+uuid.NewString()[:8]+ext)
	if err := c.SaveUploadedFile(file, audioPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "保存文件失败: " + err.Error()})
		return
	}

	project, err = Pipe.AttachVoiceover(c.Request.Context(), projectID, audioPath)
	if err != nil {
		// 对齐失败时清掉孤儿文件
		if rmErr := os.Remove(audioPath); rmErr != nil {
			log.Printf("清理配音文件失败: %v", rmErr)
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"project_id": project.ID,
		"status":     project.Status,
		"voiceover":  project.Voiceover,
		"timeline":   project.Timeline,
	})
}

// GenerateImages 为全部分镜取图，返回每个分镜的成功/失败结果
func GenerateImages(c *gin.Context) {
	var req struct {
		Backend     string `json:"backend"` // pollinations / pexels
		StyleGuide  string `json:"style_guide"`
		AspectRatio string `json:"aspect_ratio"` // 9:16 / 16:9 / 1:1
	}
	_ = c.ShouldBindJSON(&req)

	project, results, err := Pipe.GenerateImages(c.Request.Context(), c.Param("project_id"), req.Backend, req.StyleGuide, req.AspectRatio)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"project_id": project.ID,
		"status":     project.Status,
		"results":    results,
	})
}

// GenerateSceneVideos 对每个分镜做图生视频（可选增强，静态图兜底）
func GenerateSceneVideos(c *gin.Context) {
	var req struct {
		AspectRatio string `json:"aspect_ratio"`
	}
	_ = c.ShouldBindJSON(&req)

	project, results, err := Pipe.GenerateSceneVideos(c.Request.Context(), c.Param("project_id"), req.AspectRatio)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"project_id": project.ID,
		"status":     project.Status,
		"results":    results,
	})
}

// GenerateFinalVideo 合成最终成片，完成后把发布任务丢给后台队列
func GenerateFinalVideo(c *gin.Context) {
	var req struct {
		AspectRatio string `json:"aspect_ratio"`
		TextBackend string `json:"text_backend"`
	}
	_ = c.ShouldBindJSON(&req)

	project, err := Pipe.GenerateFinalVideo(c.Request.Context(), c.Param("project_id"), req.AspectRatio, req.TextBackend)
	if err != nil {
		respondError(c, err)
		return
	}

	if err := service.EnqueuePublish(project.ID); err != nil {
		log.Printf("发布任务入队失败(忽略): %v", err)
	}

	c.JSON(http.StatusOK, gin.H{
		"project_id": project.ID,
		"status":     project.Status,
		"output":     project.Output,
	})
}
