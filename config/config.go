package config

import (
    "log"
    "os"

    "gopkg.in/yaml.v2"
)

type Config struct {
    Server struct {
        Port string `yaml:"port"`
    } `yaml:"server"`
    MySQL struct {
        DSN string `yaml:"dsn"`
    } `yaml:"mysql"`
    Redis struct {
        Addr     string `yaml:"addr"`
        Password string `yaml:"password"`
    } `yaml:"redis"`
    Storage struct {
        // 本地素材根目录，按 workspace/project 分层
        Root string `yaml:"root"`
    } `yaml:"storage"`
    FFmpeg struct {
        Bin      string `yaml:"bin"`       // 默认 "ffmpeg"
        ProbeBin string `yaml:"probe_bin"` // 默认 "ffprobe"
    } `yaml:"ffmpeg"`
    Providers struct {
        GroqBaseURL     string `yaml:"groq_base_url"`
        GroqModel       string `yaml:"groq_model"`
        OpenAIBaseURL   string `yaml:"openai_base_url"`
        OpenAIModel     string `yaml:"openai_model"`
        PollinationsURL string `yaml:"pollinations_url"`
        PexelsURL       string `yaml:"pexels_url"`
        SearchEngineID  string `yaml:"search_engine_id"` // Google 自定义搜索 cx
    } `yaml:"providers"`
    Worker struct {
        // 图生视频 worker 地址（dispatch + poll）
        VideoAddr string `yaml:"video_addr"`
        // 转写服务地址（submit + poll）
        TranscribeAddr string `yaml:"transcribe_addr"`
    } `yaml:"worker"`
    MinIO struct {
        Endpoint  string `yaml:"endpoint"`
        AccessKey string `yaml:"access_key"`
        SecretKey string `yaml:"secret_key"`
        Bucket    string `yaml:"bucket"`
        UseSSL    bool   `yaml:"use_ssl"`
        Domain    string `yaml:"domain"`
    } `yaml:"minio"`
}

var AppConfig *Config

func InitConfig() {
    path := os.Getenv("REELFORGE_CONFIG")
    if path == "" {
        path = "config/config.yaml"
    }
    f, err := os.Open(path)
    if err != nil {
        log.Fatalf("配置文件读取失败: %v", err)
    }
    defer f.Close()
    decoder := yaml.NewDecoder(f)
    AppConfig = &Config{}
    if err := decoder.Decode(AppConfig); err != nil {
        log.Fatalf("配置文件解析失败: %v", err)
    }
    applyDefaults(AppConfig)
}

func applyDefaults(c *Config) {
    if c.FFmpeg.Bin == "" {
        c.FFmpeg.Bin = "ffmpeg"
    }
    if c.FFmpeg.ProbeBin == "" {
        c.FFmpeg.ProbeBin = "ffprobe"
    }
    if c.Storage.Root == "" {
        c.Storage.Root = "storage"
    }
    if c.Providers.GroqBaseURL == "" {
        c.Providers.GroqBaseURL = "https://api.groq.com/openai/v1"
    }
    if c.Providers.GroqModel == "" {
        c.Providers.GroqModel = "llama-3.3-70b-versatile"
    }
    if c.Providers.OpenAIBaseURL == "" {
        c.Providers.OpenAIBaseURL = "https://api.openai.com/v1"
    }
    if c.Providers.OpenAIModel == "" {
        c.Providers.OpenAIModel = "gpt-4o-mini"
    }
    if c.Providers.PollinationsURL == "" {
        c.Providers.PollinationsURL = "https://image.pollinations.ai"
    }
    if c.Providers.PexelsURL == "" {
        c.Providers.PexelsURL = "https://api.pexels.com/v1"
    }
}
