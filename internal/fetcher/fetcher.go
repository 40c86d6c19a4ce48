// Package fetcher reads catalog input files: DDI XML, CSV and XLSX, local or
// downloaded, and ZIP archives of DDI files.
package fetcher

import (
	"context"
	"io"
)

// Fetcher downloads remote files.
type Fetcher interface {
	// Download returns the body of url.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile writes the body of url to path and returns the bytes
	// written.
	DownloadToFile(ctx context.Context, url, path string) (int64, error)
}
