package app

import (
	"context"

	"github.com/medviewer/pacs-connector/internal/service/manifest/app/commands"
	"github.com/medviewer/pacs-connector/internal/service/manifest/app/queries"
)

type CommandBus interface {
	BuildManifest(ctx context.Context, cmd commands.BuildManifestCommand) (commands.BuildManifestResult, error)
	UploadManifest(ctx context.Context, cmd commands.UploadManifestCommand) (commands.UploadManifestResult, error)
}

type QueryBus interface {
	FetchManifest(ctx context.Context, q queries.FetchManifestQuery) (queries.FetchManifestResult, error)
}

type commandBus struct {
	buildManifest  commands.BuildManifestHandler
	uploadManifest commands.UploadManifestHandler
}

type queryBus struct {
	fetchManifest queries.FetchManifestQueryHandler
}

func NewCommandBus(
	build commands.BuildManifestHandler,
	upload commands.UploadManifestHandler,
) CommandBus {
	return &commandBus{
		buildManifest:  build,
		uploadManifest: upload,
	}
}

func NewQueryBus(
	fetch queries.FetchManifestQueryHandler,
) QueryBus {
	return &queryBus{
		fetchManifest: fetch,
	}
}

func (b *commandBus) BuildManifest(ctx context.Context, cmd commands.BuildManifestCommand) (commands.BuildManifestResult, error) {
	return b.buildManifest.Handle(ctx, cmd)
}

func (b *commandBus) UploadManifest(ctx context.Context, cmd commands.UploadManifestCommand) (commands.UploadManifestResult, error) {
	return b.uploadManifest.Handle(ctx, cmd)
}

func (b *queryBus) FetchManifest(ctx context.Context, q queries.FetchManifestQuery) (queries.FetchManifestResult, error) {
	return b.fetchManifest.Handle(ctx, q)
}
