package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// WorkerVideoClient 对接图生视频 worker：提交任务拿 job id，轮询到终态后
// 把产物片段下载到本地。轮询有总时长上限，超时报错而不是无限等。
type WorkerVideoClient struct {
	Endpoint     string
	httpClient   *http.Client
	PollInterval time.Duration
	MaxWait      time.Duration
}

func NewWorkerVideoClient(endpoint string) *WorkerVideoClient {
	return &WorkerVideoClient{
		Endpoint:     endpoint,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		PollInterval: 3 * time.Second,
		MaxWait:      10 * time.Minute,
	}
}

func (w *WorkerVideoClient) AcquireSceneVideo(ctx context.Context, imagePath, narration, resolution, destDir string) (string, error) {
	if w.Endpoint == "" {
		return "", &NoProviderAvailableError{Capability: "scene video generation"}
	}

	jobID, err := w.dispatchJob(ctx, imagePath, narration, resolution)
	if err != nil {
		return "", &ProviderError{Backend: BackendVideoWorker, Err: err}
	}
	log.Printf("[videogen] 任务已提交，Job ID: %s，开始轮询结果...", jobID)

	resourceURL, err := w.pollJobResult(ctx, jobID)
	if err != nil {
		if ctx.Err() != nil {
			// 请求被放弃，顺手通知 worker 丢弃任务
			if cerr := w.CancelJob(jobID); cerr != nil {
				log.Printf("[videogen] 取消 worker 任务 %s 失败: %v", jobID, cerr)
			}
		}
		return "", &ProviderError{Backend: BackendVideoWorker, Err: err}
	}

	outFile := filepath.Join(destDir, fmt.Sprintf("clip_%s.mp4", uuid.NewString()[:8]))
	if err := downloadFile(ctx, w.httpClient, resourceURL, nil, outFile); err != nil {
		return "", &ProviderError{Backend: BackendVideoWorker, Err: fmt.Errorf("download clip: %w", err)}
	}
	return outFile, nil
}

// dispatchJob 送 multipart 请求（图片文件 + 参数），返回 job_id
func (w *WorkerVideoClient) dispatchJob(ctx context.Context, imagePath, narration, resolution string) (string, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filepath.Base(imagePath))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", err
	}
	_ = mw.WriteField("narration", narration)
	_ = mw.WriteField("resolution", resolution)
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.Endpoint+"/v1/generate", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("worker status code: %d", resp.StatusCode)
	}

	var respData map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return "", fmt.Errorf("decode response failed: %v", err)
	}
	// 优先取根节点的 id，兼容 job_id
	if id, ok := respData["id"].(string); ok && id != "" {
		return id, nil
	}
	if jobID, ok := respData["job_id"].(string); ok && jobID != "" {
		return jobID, nil
	}
	return "", fmt.Errorf("response missing 'id'")
}

// pollJobResult 轮询 GET /v1/jobs/{job_id} 直到终态，返回产物 URL
func (w *WorkerVideoClient) pollJobResult(ctx context.Context, jobID string) (string, error) {
	jobURL := fmt.Sprintf("%s/v1/jobs/%s", w.Endpoint, jobID)

	timeout := time.After(w.MaxWait)
	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			return "", fmt.Errorf("polling timeout after %s", w.MaxWait)
		case <-ctx.Done():
			return "", fmt.Errorf("polling canceled: %v", ctx.Err())
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, jobURL, nil)
			if err != nil {
				log.Printf("[videogen] 创建请求失败: %v", err)
				continue
			}

			resp, err := w.httpClient.Do(req)
			if err != nil {
				// ctx 取消会在上面的 <-ctx.Done() 捕获，其余网络错误重试
				log.Printf("[videogen] 轮询网络错误(重试中): %v", err)
				continue
			}

			var job struct {
				Status string `json:"status"`
				Error  string `json:"error"`
				Result struct {
					ResourceURL string `json:"resource_url"`
				} `json:"result"`
			}
			err = json.NewDecoder(resp.Body).Decode(&job)
			resp.Body.Close()
			if err != nil {
				log.Printf("[videogen] 解析响应失败: %v", err)
				continue
			}

			switch job.Status {
			case "finished", "success", "completed", "succeeded":
				if job.Result.ResourceURL == "" {
					return "", fmt.Errorf("job finished without resource_url")
				}
				return job.Result.ResourceURL, nil
			case "failed", "error":
				return "", fmt.Errorf("worker reported failure: %s", job.Error)
			}
			// 其他状态继续轮询
		}
	}
}

// CancelJob 通知 worker 丢弃一个还在跑的任务
func (w *WorkerVideoClient) CancelJob(jobID string) error {
	if jobID == "" {
		return fmt.Errorf("empty job id")
	}
	req, err := http.NewRequest(http.MethodDelete, w.Endpoint+"/v1/jobs/"+jobID, nil)
	if err != nil {
		return fmt.Errorf("create delete request failed: %w", err)
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("worker delete request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("worker delete status: %d", resp.StatusCode)
	}
	return nil
}
