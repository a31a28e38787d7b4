package main

import (
	"context"

	"github.com/medviewer/pacs-connector/internal/service"
)

func main() {
	ctx := context.Background()

	svc, err := service.NewManifestService(ctx)
	if err != nil {
		panic(err)
	}

	err = svc.Start(ctx)
	if err != nil {
		panic(err)
	}
}
