package main

import (
	"context"
)

// noopDownloader satisfies ingest.Downloader without fetching anything:
// fetching the source CSVs from wherever they're published is explicitly
// out of scope (see the ingest component's Downloader interface boundary).
// Operators run storectl against a directory some other process (a cron
// job, a sidecar, a manual drop) keeps populated.
type noopDownloader struct{}

func (noopDownloader) Download(context.Context, string, bool) error {
	return nil
}
