package service

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"reelforge-server/config"

	"github.com/hibiken/asynq"
)

// 后台任务只做 best-effort 收尾工作，生成阶段本身全部在请求内同步执行
const (
	TypePublishOutput  = "project:publish" // 成片上传 MinIO 并回写公开链接
	TypeCleanupProject = "project:cleanup" // 删除项目后清理素材目录
)

type PublishPayload struct {
	ProjectID string `json:"project_id"`
}

type CleanupPayload struct {
	ProjectID string `json:"project_id"`
	Dir       string `json:"dir"`
}

var QueueClient *asynq.Client

// InitQueue 初始化
func InitQueue() {
	QueueClient = asynq.NewClient(asynq.RedisClientOpt{
		Addr:     config.AppConfig.Redis.Addr,
		Password: config.AppConfig.Redis.Password,
	})
}

// EnqueuePublish 成片发布入队。入队失败只打日志，不影响 completed 状态。
func EnqueuePublish(projectID string) error {
	payload, err := json.Marshal(PublishPayload{ProjectID: projectID})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(TypePublishOutput, payload,
		asynq.MaxRetry(3),             // 失败重试 3 次
		asynq.Timeout(10*time.Minute), // 成片可能较大，上传留足时间
		asynq.Retention(24*time.Hour),
	)

	info, err := QueueClient.Enqueue(task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}

	log.Printf("[Queue] 发布任务入队: Project=%s, Queue ID=%s", projectID, info.ID)
	return nil
}

// EnqueueCleanup 项目删除后的目录清理入队
func EnqueueCleanup(projectID, dir string) error {
	payload, err := json.Marshal(CleanupPayload{ProjectID: projectID, Dir: dir})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(TypeCleanupProject, payload,
		asynq.MaxRetry(2),
		asynq.Timeout(time.Minute),
	)

	info, err := QueueClient.Enqueue(task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}

	log.Printf("[Queue] 清理任务入队: Project=%s, Queue ID=%s", projectID, info.ID)
	return nil
}
