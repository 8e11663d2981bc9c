package api

import (
	"net/http"
	"time"

	"reelforge-server/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func isTerminalStatus(status string) bool {
	switch status {
	case models.ProjectStatusCompleted, models.ProjectStatusFailed, models.ProjectStatusRejected:
		return true
	}
	return false
}

// 项目状态 WebSocket 推送（以数据库为来源：先读取 DB，然后循环轮询 DB 并推送变化）。
// 生成阶段由同步请求驱动并写回 DB，这里只订阅并推送最新状态。
func ProjectProgressWebSocket(c *gin.Context) {
	projectID := c.Param("project_id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "WebSocket升级失败"})
		return
	}
	defer conn.Close()

	p, err := models.GetProjectByID(projectID)
	if err != nil {
		conn.WriteJSON(map[string]interface{}{"error": "project not found: " + err.Error()})
		return
	}
	_ = conn.WriteJSON(gin.H{"project_id": p.ID, "status": p.Status, "updated_at": p.UpdatedAt})

	// 每秒轮询一次直到终态
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	prevStatus := p.Status

	for range ticker.C {
		cur, err := models.GetProjectByID(projectID)
		if err != nil {
			// 项目被删：推一条后断开
			_ = conn.WriteJSON(gin.H{"project_id": projectID, "deleted": true})
			break
		}

		if cur.Status != prevStatus {
			if err := conn.WriteJSON(gin.H{"project_id": cur.ID, "status": cur.Status, "updated_at": cur.UpdatedAt}); err != nil {
				break
			}
			prevStatus = cur.Status
		}

		if isTerminalStatus(cur.Status) {
			break
		}
	}
}

// 查询项目状态：GET /v1/api/projects/:project_id/status
func GetProjectStatus(c *gin.Context) {
	p, err := models.GetProjectByID(c.Param("project_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project_id": p.ID, "status": p.Status, "updated_at": p.UpdatedAt})
}
