package queries

import (
	"context"

	"github.com/medviewer/pacs-connector/internal/service/manifest/adapters/weasis"
	"github.com/medviewer/pacs-connector/internal/service/manifest/registry"
)

// FetchManifestQuery consumes one correlation id. The version selects the
// rendered schema; retrieval is at-most-once whatever the outcome.
type FetchManifestQuery struct {
	ID      int64
	Version weasis.Version
}

type FetchManifestResult struct {
	Document []byte
	Charset  string
}

type FetchManifestQueryHandler interface {
	Handle(ctx context.Context, query FetchManifestQuery) (result FetchManifestResult, err error)
}

func NewFetchManifestQueryHandler(reg *registry.Registry) FetchManifestQueryHandler {
	return &fetchManifestQueryHandler{reg: reg}
}

type fetchManifestQueryHandler struct {
	reg *registry.Registry
}

func (h *fetchManifestQueryHandler) Handle(ctx context.Context, q FetchManifestQuery) (FetchManifestResult, error) {
	artifact, err := h.reg.Retrieve(ctx, q.ID)
	if err != nil {
		return FetchManifestResult{}, err
	}
	doc := artifact.Document
	if q.Version == weasis.VersionLegacy && artifact.Legacy != nil {
		doc = artifact.Legacy
	}
	return FetchManifestResult{Document: doc, Charset: artifact.Charset}, nil
}
