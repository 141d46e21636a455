//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/docqa/engine/internal/bootstrap"
	"github.com/docqa/engine/internal/infra/config"
	httpiface "github.com/docqa/engine/internal/interface/http"
	"github.com/docqa/engine/pkg/logger"
)

func initializeApp() (*bootstrap.App, error) {
	wire.Build(
		config.Load,
		logger.New,
		providePostgresPool,
		provideDocumentRepository,
		provideChunkStore,
		provideJobQueue,
		provideHistoryRepository,
		provideCacheRepository,
		provideBlobStore,
		provideFileStore,
		provideExtractor,
		provideKeyPool,
		provideOpenAIClient,
		provideChatClient,
		provideEmbedClient,
		provideEmbedder,
		provideIngestPool,
		provideSweeper,
		provideRetriever,
		provideQueryCache,
		provideOrchestrator,
		httpiface.NewHandler,
		httpiface.NewRouter,
		bootstrap.NewApp,
	)
	return nil, nil
}
