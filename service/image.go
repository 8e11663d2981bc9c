package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"reelforge-server/models"

	"github.com/google/uuid"
)

// PollinationsBackend 生成式图片后端：提示词直接编码进 URL，免密钥。
// 偶发超时，带退避重试三次。
type PollinationsBackend struct {
	BaseURL    string
	httpClient *http.Client
}

func NewPollinationsBackend(baseURL string) *PollinationsBackend {
	return &PollinationsBackend{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *PollinationsBackend) AcquireSceneImage(ctx context.Context, apiKey, prompt, aspectRatio, destDir string) (string, string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", "", &ProviderError{Backend: BackendPollinations, Err: fmt.Errorf("empty prompt")}
	}
	w, h := resolutionFor(aspectRatio)
	imageURL := fmt.Sprintf("%s/prompt/%s?width=%d&height=%d&nologo=true&model=flux",
		p.BaseURL, url.PathEscape(prompt), w, h)

	outFile := filepath.Join(destDir, fmt.Sprintf("scene_%s.jpg", uuid.NewString()[:8]))

	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		err = downloadFile(ctx, p.httpClient, imageURL, nil, outFile)
		if err == nil {
			return outFile, models.ImageSourceAIGenerated, nil
		}
		log.Printf("[image] pollinations 第 %d 次尝试失败: %v", attempt, err)
		select {
		case <-ctx.Done():
			return "", "", &ProviderError{Backend: BackendPollinations, Err: ctx.Err()}
		case <-time.After(time.Duration(attempt) * 3 * time.Second):
		}
	}
	return "", "", &ProviderError{Backend: BackendPollinations, Err: err}
}

// PexelsBackend 图库检索后端：按提示词搜图并下载，需要工作区配置 pexels 凭证
type PexelsBackend struct {
	BaseURL    string
	httpClient *http.Client
}

func NewPexelsBackend(baseURL string) *PexelsBackend {
	return &PexelsBackend{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *PexelsBackend) AcquireSceneImage(ctx context.Context, apiKey, prompt, aspectRatio, destDir string) (string, string, error) {
	orientation := "portrait"
	switch aspectRatio {
	case "16:9":
		orientation = "landscape"
	case "1:1":
		orientation = "square"
	}

	searchURL := fmt.Sprintf("%s/search?query=%s&per_page=3&orientation=%s",
		p.BaseURL, url.QueryEscape(prompt), orientation)

	req, err := http.NewRequestWithContext(ctx, "GET", searchURL, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Authorization", apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", "", &ProviderError{Backend: BackendPexels, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", &ProviderError{Backend: BackendPexels, Err: fmt.Errorf("search status %d", resp.StatusCode)}
	}

	var result struct {
		Photos []struct {
			Src struct {
				Original  string `json:"original"`
				Large2x   string `json:"large2x"`
				Portrait  string `json:"portrait"`
				Landscape string `json:"landscape"`
			} `json:"src"`
		} `json:"photos"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", "", &ProviderError{Backend: BackendPexels, Err: fmt.Errorf("parse search response: %w", err)}
	}
	if len(result.Photos) == 0 {
		return "", "", &ProviderError{Backend: BackendPexels, Err: fmt.Errorf("no stock photo found for %q", prompt)}
	}

	src := result.Photos[0].Src.Large2x
	switch orientation {
	case "portrait":
		if result.Photos[0].Src.Portrait != "" {
			src = result.Photos[0].Src.Portrait
		}
	case "landscape":
		if result.Photos[0].Src.Landscape != "" {
			src = result.Photos[0].Src.Landscape
		}
	}
	if src == "" {
		src = result.Photos[0].Src.Original
	}

	outFile := filepath.Join(destDir, fmt.Sprintf("scene_%s.jpg", uuid.NewString()[:8]))
	headers := map[string]string{"Authorization": apiKey}
	if err := downloadFile(ctx, p.httpClient, src, headers, outFile); err != nil {
		return "", "", &ProviderError{Backend: BackendPexels, Err: err}
	}
	return outFile, models.ImageSourceStock, nil
}

func downloadFile(ctx context.Context, client *http.Client, fileURL string, headers map[string]string, outFile string) error {
	req, err := http.NewRequestWithContext(ctx, "GET", fileURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; ReelForge/1.0)")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	// 太小基本是错误页而不是图片
	if len(data) < 100 {
		return fmt.Errorf("response too small (%d bytes), likely an error page", len(data))
	}
	if err := os.MkdirAll(filepath.Dir(outFile), 0755); err != nil {
		return err
	}
	return os.WriteFile(outFile, data, 0644)
}
