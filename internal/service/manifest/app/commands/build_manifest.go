package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/medviewer/pacs-connector/internal/service/manifest/adapters/archive"
	"github.com/medviewer/pacs-connector/internal/service/manifest/adapters/weasis"
	"github.com/medviewer/pacs-connector/internal/service/manifest/catalog"
	"github.com/medviewer/pacs-connector/internal/service/manifest/registry"

	"golang.org/x/sync/errgroup"
)

// BuildManifestCommand describes one asynchronous manifest build: which
// identifiers to look up, the study filter, and which configured archives to
// query. At least one identifier class must be non-empty.
type BuildManifestCommand struct {
	PatientIDs       []string
	StudyUIDs        []string
	AccessionNumbers []string
	SeriesUIDs       []string
	ObjectUIDs       []string

	Filter   catalog.StudyFilter
	Archives []string
}

// BuildManifestResult carries the correlation id the caller later fetches
// the document with.
type BuildManifestResult struct {
	ID int64
}

type BuildManifestHandler interface {
	Handle(ctx context.Context, cmd BuildManifestCommand) (result BuildManifestResult, err error)
}

func NewBuildManifestHandler(reg *registry.Registry, factory *archive.Factory, log *slog.Logger) BuildManifestHandler {
	if log == nil {
		log = slog.Default()
	}
	return &buildManifestCmdHandler{reg: reg, factory: factory, log: log}
}

type buildManifestCmdHandler struct {
	reg     *registry.Registry
	factory *archive.Factory
	log     *slog.Logger
}

func (h *buildManifestCmdHandler) Handle(ctx context.Context, cmd BuildManifestCommand) (BuildManifestResult, error) {
	if err := cmd.validate(); err != nil {
		return BuildManifestResult{}, err
	}
	backends, err := h.factory.Select(cmd.Archives)
	if err != nil {
		return BuildManifestResult{}, err
	}

	id := h.reg.Submit(func(jobCtx context.Context) (*registry.Artifact, error) {
		return h.build(jobCtx, backends, cmd)
	})
	return BuildManifestResult{ID: id}, nil
}

// build runs every selected archive, renders both schema versions and
// returns the artifact. Archives run in parallel on their own catalog roots;
// results keep configuration order so output stays deterministic.
func (h *buildManifestCmdHandler) build(ctx context.Context, backends []*archive.Backend, cmd BuildManifestCommand) (*registry.Artifact, error) {
	archives := make([]archive.Archive, len(backends))
	for i, b := range backends {
		archives[i] = archive.New(b, cmd.Filter, h.log)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range archives {
		a := a
		g.Go(func() error {
			return runLookups(gctx, a, cmd)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]*archive.Result, len(archives))
	for i, a := range archives {
		results[i] = a.Result()
	}
	attachEmptyWarning(results)

	doc, err := weasis.Render(results, weasis.VersionCurrent)
	if err != nil {
		return nil, err
	}
	legacy, err := weasis.Render(results, weasis.VersionLegacy)
	if err != nil {
		return nil, err
	}
	return &registry.Artifact{Document: doc, Legacy: legacy, Charset: weasis.Charset}, nil
}

// runLookups issues every identifier class of the command against one
// archive. Lookup failures surface as diagnostics on the archive result; the
// returned error is non-nil only on cancellation.
func runLookups(ctx context.Context, a archive.Archive, cmd BuildManifestCommand) error {
	if len(cmd.PatientIDs) > 0 {
		if err := a.BuildFromPatientID(ctx, cmd.PatientIDs...); err != nil {
			return err
		}
	}
	if len(cmd.StudyUIDs) > 0 {
		if err := a.BuildFromStudyUID(ctx, cmd.StudyUIDs...); err != nil {
			return err
		}
	}
	if len(cmd.AccessionNumbers) > 0 {
		if err := a.BuildFromAccessionNumber(ctx, cmd.AccessionNumbers...); err != nil {
			return err
		}
	}
	if len(cmd.SeriesUIDs) > 0 {
		if err := a.BuildFromSeriesUID(ctx, cmd.SeriesUIDs...); err != nil {
			return err
		}
	}
	if len(cmd.ObjectUIDs) > 0 {
		if err := a.BuildFromInstanceUID(ctx, cmd.ObjectUIDs...); err != nil {
			return err
		}
	}
	return nil
}

// attachEmptyWarning adds the WARN "empty result" diagnostic when the whole
// build produced no records and no diagnostic is queued yet.
func attachEmptyWarning(results []*archive.Result) {
	for _, res := range results {
		if !res.Catalog.IsEmpty() || len(res.Messages) > 0 {
			return
		}
	}
	if len(results) > 0 {
		results[0].Messages = append(results[0].Messages, catalog.Message{
			Title:    "Empty result",
			Text:     "The query returned no data",
			Severity: catalog.SeverityWarn,
		})
	}
}

func (cmd BuildManifestCommand) validate() error {
	if len(cmd.PatientIDs) == 0 && len(cmd.StudyUIDs) == 0 && len(cmd.AccessionNumbers) == 0 &&
		len(cmd.SeriesUIDs) == 0 && len(cmd.ObjectUIDs) == 0 {
		return fmt.Errorf("build manifest: at least one identifier is required")
	}
	return nil
}
