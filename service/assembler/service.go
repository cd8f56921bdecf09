package assembler

import (
	"bytes"
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/nanokernel/model/image"
)

// Service assembles sources stored behind afs URLs.
type Service struct {
	fs afs.Service
}

// New creates a service
func New(fs afs.Service) *Service {
	return &Service{fs: fs}
}

// Load assembles the source at URL.
func (s *Service) Load(ctx context.Context, URL string) (*image.Image, error) {
	source, err := s.fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to download %v", URL)
	}
	ret, err := Assemble(source)
	if err != nil {
		return nil, errors.WithMessagef(err, "%v", URL)
	}
	return ret, nil
}

// Build assembles sourceURL and uploads the encoded image to destURL.
func (s *Service) Build(ctx context.Context, sourceURL, destURL string) (*image.Image, error) {
	ret, err := s.Load(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	encoded := ret.Encode()
	if err = s.fs.Upload(ctx, destURL, file.DefaultFileOsMode, bytes.NewReader(encoded)); err != nil {
		return nil, errors.Wrapf(err, "failed to upload %v", destURL)
	}
	log.Debug().Str("source", sourceURL).Str("image", destURL).Int("code", len(ret.Code)).Int("data", len(ret.Data)).Uint32("bss", ret.BSS).Msg("assembled")
	return ret, nil
}
