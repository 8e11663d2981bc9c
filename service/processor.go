package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"reelforge-server/config"
	"reelforge-server/models"

	"github.com/hibiken/asynq"
)

// Processor 消费后台收尾任务（成片发布、删除清理）。
// 生成流水线本身不走队列，见 service/pipeline.go。
type Processor struct {
	StorageRoot string
}

func NewProcessor() *Processor {
	return &Processor{
		StorageRoot: config.AppConfig.Storage.Root,
	}
}

// StartProcessor 启动任务消费者
func (p *Processor) StartProcessor(concurrency int) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     config.AppConfig.Redis.Addr,
			Password: config.AppConfig.Redis.Password,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypePublishOutput, p.HandlePublishOutput)
	mux.HandleFunc(TypeCleanupProject, p.HandleCleanupProject)

	log.Printf("Starting Task Processor with concurrency %d...", concurrency)
	go func() {
		if err := srv.Run(mux); err != nil {
			log.Fatalf("could not run server: %v", err)
		}
	}()
}

// HandlePublishOutput 把已完成项目的成片传到 MinIO，并把公开链接回写 Output。
// 项目此时已是 completed，发布失败只影响 PublicURL，由 asynq 按策略重试。
func (p *Processor) HandlePublishOutput(ctx context.Context, t *asynq.Task) error {
	var payload PublishPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	project, err := models.GetProjectByID(payload.ProjectID)
	if err != nil {
		// 项目在发布前被删了，不重试
		return fmt.Errorf("project not found: %v: %w", err, asynq.SkipRetry)
	}
	if project.Output == nil || project.Output.VideoPath == "" {
		return fmt.Errorf("project %s has no output video: %w", project.ID, asynq.SkipRetry)
	}
	if project.Output.PublicURL != "" {
		// 已发布过（重复入队或重试竞争），幂等跳过
		return nil
	}

	publicURL, err := PublishOutput(ctx, project.Output.VideoPath, project.WorkspaceID, project.ID)
	if err != nil {
		return err
	}

	project.Output.PublicURL = publicURL
	if err := models.SaveProject(project); err != nil {
		return fmt.Errorf("write back public url failed: %w", err)
	}
	log.Printf("[Processor] 项目 %s 成片发布完成", project.ID)
	return nil
}

// HandleCleanupProject 删除项目素材目录。best-effort：目录不存在视为成功。
func (p *Processor) HandleCleanupProject(ctx context.Context, t *asynq.Task) error {
	var payload CleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	// 防御：只清理存储根目录之下的路径
	if payload.Dir == "" || !strings.HasPrefix(payload.Dir, p.StorageRoot) {
		return fmt.Errorf("refusing to remove %q outside storage root: %w", payload.Dir, asynq.SkipRetry)
	}

	if err := os.RemoveAll(payload.Dir); err != nil {
		return fmt.Errorf("remove project dir failed: %w", err)
	}
	log.Printf("[Processor] 项目 %s 素材目录已清理: %s", payload.ProjectID, payload.Dir)
	return nil
}
