package cli

import (
	"fmt"

	"kb/config"
	"kb/internal/adapter/chunker"
	"kb/internal/adapter/fs"
	"kb/internal/adapter/hasher"
	"kb/internal/bootstrap"
	"kb/internal/port"
	"kb/internal/usecase"
)

// app bundles the use cases a command needs. Close releases the store.
type app struct {
	store    port.DocumentStore
	gateway  port.EmbeddingGateway
	ingest   *usecase.IngestUseCase
	retrieve *usecase.RetrieveUseCase
}

func newApp(cfg *config.Config) (*app, error) {
	ch, err := chunker.NewTextChunker(cfg.Chunker.Size, cfg.Chunker.Overlap)
	if err != nil {
		return nil, err
	}

	st, err := bootstrap.OpenStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	gw := bootstrap.NewGateway(cfg)
	return &app{
		store:   st,
		gateway: gw,
		ingest: usecase.NewIngestUseCase(
			st, gw, ch, hasher.New(),
			fs.NewWalker(cfg.Ingest.Includes, cfg.Ingest.Excludes),
			fs.NewReader(),
			log,
		),
		retrieve: usecase.NewRetrieveUseCase(st, gw, log),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
