// Package artifact abstracts where the downloadable binary lives. The
// delivery endpoint streams it verbatim from a local file or from an
// S3-compatible bucket, depending on configuration.
package artifact

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/passgate/internal/common"
)

// Source yields a fresh reader over the artifact for each download.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// LocalSource serves the artifact from a file on disk.
type LocalSource struct {
	path string
}

func NewLocalSource(path string) *LocalSource {
	return &LocalSource{path: path}
}

func (s *LocalSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("artifact %s: %w", s.path, common.ErrorNotFound)
		}
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return f, nil
}
