package main

import (
	"fmt"
	"log"

	"reelforge-server/config"
	"reelforge-server/models"
	"reelforge-server/routers"
	"reelforge-server/routers/api"
	"reelforge-server/service"

	"github.com/joho/godotenv"
)

func buildPipeline() *service.Pipeline {
	cfg := config.AppConfig

	registry := &service.ProviderRegistry{
		Text: map[string]*service.ChatBackend{
			service.BackendGroq:   service.NewChatBackend(service.BackendGroq, cfg.Providers.GroqBaseURL, cfg.Providers.GroqModel),
			service.BackendOpenAI: service.NewChatBackend(service.BackendOpenAI, cfg.Providers.OpenAIBaseURL, cfg.Providers.OpenAIModel),
		},
		Images: map[string]service.ImageProvider{
			service.BackendPollinations: service.NewPollinationsBackend(cfg.Providers.PollinationsURL),
			service.BackendPexels:       service.NewPexelsBackend(cfg.Providers.PexelsURL),
		},
	}
	if cfg.Worker.VideoAddr != "" {
		registry.Video = service.NewWorkerVideoClient(cfg.Worker.VideoAddr)
	}
	if cfg.Worker.TranscribeAddr != "" {
		registry.Transcriber = service.NewPollingTranscriber(cfg.Worker.TranscribeAddr)
	}
	registry.Research = &service.ResearchService{
		Text:     registry.Text,
		Creds:    service.DBCredentials{},
		SearchCx: cfg.Providers.SearchEngineID,
	}

	assembler := service.NewAssembler(cfg.FFmpeg.Bin, cfg.FFmpeg.ProbeBin)

	return &service.Pipeline{
		Store:       service.DBProjects{},
		Providers:   registry,
		Creds:       service.DBCredentials{},
		Prober:      assembler,
		Assembler:   assembler,
		StorageRoot: cfg.Storage.Root,
	}
}

func main() {
	// 本地开发用 .env 覆盖环境变量，没有也不报错
	if err := godotenv.Load(); err != nil {
		log.Println("未找到 .env 文件，使用系统环境变量")
	}

	config.InitConfig()
	fmt.Println("Server starting on port", config.AppConfig.Server.Port)
	models.InitDB()
	fmt.Println("Database initialized")

	service.InitQueue()
	fmt.Println("Queue initialized")

	service.InitMinIO()
	fmt.Println("MinIO initialized")

	processor := service.NewProcessor()
	processor.StartProcessor(5)

	api.InitHandlers(buildPipeline())

	r := routers.InitRouter()
	r.Run(config.AppConfig.Server.Port)
}
