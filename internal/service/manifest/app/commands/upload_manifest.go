package commands

import (
	"context"
	"fmt"

	"github.com/medviewer/pacs-connector/internal/service/manifest/adapters/weasis"
	"github.com/medviewer/pacs-connector/internal/service/manifest/registry"
)

// UploadManifestCommand registers a pre-built manifest document for callers
// that already have one; adapter execution is skipped and the job completes
// immediately.
type UploadManifestCommand struct {
	Document []byte
}

type UploadManifestResult struct {
	ID int64
}

type UploadManifestHandler interface {
	Handle(ctx context.Context, cmd UploadManifestCommand) (result UploadManifestResult, err error)
}

func NewUploadManifestHandler(reg *registry.Registry) UploadManifestHandler {
	return &uploadManifestCmdHandler{reg: reg}
}

type uploadManifestCmdHandler struct {
	reg *registry.Registry
}

func (h *uploadManifestCmdHandler) Handle(ctx context.Context, cmd UploadManifestCommand) (UploadManifestResult, error) {
	if len(cmd.Document) == 0 {
		return UploadManifestResult{}, fmt.Errorf("upload manifest: empty document")
	}
	id := h.reg.SubmitDocument(cmd.Document, weasis.Charset)
	return UploadManifestResult{ID: id}, nil
}
