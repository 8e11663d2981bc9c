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

	"reelforge-server/models"
)

// PollingTranscriber 对接异步转写服务：上传音频拿 job id，轮询拿词级/段级时间。
// 后端不支持词级时 Words 为空，调用方（Aligner）自行降级。
type PollingTranscriber struct {
	Endpoint     string
	httpClient   *http.Client
	PollInterval time.Duration
	MaxWait      time.Duration
}

func NewPollingTranscriber(endpoint string) *PollingTranscriber {
	return &PollingTranscriber{
		Endpoint:     endpoint,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		PollInterval: 3 * time.Second,
		MaxWait:      5 * time.Minute,
	}
}

func (t *PollingTranscriber) Transcribe(ctx context.Context, audioPath string) (*models.WhisperAnalysis, error) {
	if t.Endpoint == "" {
		return nil, &NoProviderAvailableError{Capability: "transcription"}
	}

	jobID, err := t.submit(ctx, audioPath)
	if err != nil {
		return nil, &ProviderError{Backend: BackendTranscribe, Err: err}
	}
	log.Printf("[transcribe] 转写任务已提交，Job ID: %s", jobID)

	analysis, err := t.poll(ctx, jobID)
	if err != nil {
		return nil, &ProviderError{Backend: BackendTranscribe, Err: err}
	}
	return analysis, nil
}

func (t *PollingTranscriber) submit(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", err
	}
	_ = mw.WriteField("word_timestamps", "true")
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint+"/v1/transcripts", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("transcribe status code: %d", resp.StatusCode)
	}

	var respData struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return "", fmt.Errorf("decode response failed: %v", err)
	}
	if respData.ID == "" {
		return "", fmt.Errorf("response missing 'id'")
	}
	return respData.ID, nil
}

func (t *PollingTranscriber) poll(ctx context.Context, jobID string) (*models.WhisperAnalysis, error) {
	jobURL := fmt.Sprintf("%s/v1/transcripts/%s", t.Endpoint, jobID)

	timeout := time.After(t.MaxWait)
	ticker := time.NewTicker(t.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			return nil, fmt.Errorf("transcription polling timeout after %s", t.MaxWait)
		case <-ctx.Done():
			return nil, fmt.Errorf("polling canceled: %v", ctx.Err())
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, jobURL, nil)
			if err != nil {
				continue
			}
			resp, err := t.httpClient.Do(req)
			if err != nil {
				log.Printf("[transcribe] 轮询网络错误(重试中): %v", err)
				continue
			}

			var job struct {
				Status string `json:"status"`
				Error  string `json:"error"`
				Text   string `json:"text"`
				Words  []struct {
					Text  string  `json:"text"`
					Start float64 `json:"start"`
					End   float64 `json:"end"`
				} `json:"words"`
				Segments []struct {
					Text  string  `json:"text"`
					Start float64 `json:"start"`
					End   float64 `json:"end"`
				} `json:"segments"`
			}
			err = json.NewDecoder(resp.Body).Decode(&job)
			resp.Body.Close()
			if err != nil {
				log.Printf("[transcribe] 解析响应失败: %v", err)
				continue
			}

			switch job.Status {
			case "completed", "finished", "success":
				analysis := &models.WhisperAnalysis{FullText: job.Text}
				for _, w := range job.Words {
					analysis.Words = append(analysis.Words, models.Word{Word: w.Text, Start: w.Start, End: w.End})
				}
				for _, s := range job.Segments {
					analysis.Segments = append(analysis.Segments, models.SegmentTiming{Text: s.Text, Start: s.Start, End: s.End})
				}
				return analysis, nil
			case "failed", "error":
				return nil, fmt.Errorf("transcription failed: %s", job.Error)
			}
		}
	}
}
