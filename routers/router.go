package routers

import (
	"reelforge-server/config"
	"reelforge-server/routers/api"

	"github.com/gin-gonic/gin"
)

func InitRouter() *gin.Engine {
	r := gin.Default()
	r.Static("/static", config.AppConfig.Storage.Root)
	v1 := r.Group("/v1/api")
	{
		v1.POST("/projects", api.CreateProject)
		v1.GET("/projects", api.ListProjects)
		v1.GET("/projects/:project_id", api.GetProject)
		v1.PUT("/projects/:project_id", api.UpdateProject)
		v1.DELETE("/projects/:project_id", api.DeleteProject)
		v1.GET("/projects/:project_id/status", api.GetProjectStatus)

		// 生成阶段（同步执行，状态机推进见 service/pipeline.go）
		v1.POST("/projects/:project_id/research", api.StartResearch)
		v1.POST("/projects/:project_id/voiceover", api.UploadVoiceover)
		v1.POST("/projects/:project_id/images", api.GenerateImages)
		v1.POST("/projects/:project_id/scene-videos", api.GenerateSceneVideos)
		v1.POST("/projects/:project_id/video", api.GenerateFinalVideo)

		// 时间轴编辑
		v1.PUT("/projects/:project_id/timeline", api.UpdateTimeline)
		v1.POST("/projects/:project_id/scenes", api.AddScene)
		v1.DELETE("/projects/:project_id/scenes/:scene_id", api.RemoveScene)

		// 审批分支
		v1.POST("/projects/:project_id/submit-approval", api.SubmitForApproval)
		v1.POST("/projects/:project_id/review", api.ReviewProject)
	}
	r.GET("/projects/:project_id/wss", api.ProjectProgressWebSocket)
	return r
}
