package receipt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	qrcode "github.com/skip2/go-qrcode"

	"room-reserve/internal/domain"
	"room-reserve/internal/storage"
)

const qrSize = 256

// Generator encodes reservation summaries into QR code images under a
// receipts directory, optionally mirroring each image to object storage.
type Generator struct {
	dir      string
	mirror   storage.Service
	mirrorTo storage.UploadOptions
	logger   logrus.FieldLogger
}

// Option configures a Generator.
type Option func(*Generator)

// WithMirror enables mirroring generated receipts to object storage.
// Mirror failures are logged, never surfaced to the caller.
func WithMirror(svc storage.Service, opts storage.UploadOptions) Option {
	return func(g *Generator) {
		g.mirror = svc
		g.mirrorTo = opts
	}
}

func NewGenerator(dir string, logger logrus.FieldLogger, opts ...Option) *Generator {
	g := &Generator{dir: dir, logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate writes receipt_<id>.png into the receipts directory and returns
// the file name. The directory is created on demand.
func (g *Generator) Generate(ctx context.Context, id int64, username string, start time.Time) (string, error) {
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return "", fmt.Errorf("create receipts dir: %w", err)
	}

	summary := fmt.Sprintf("Reservation ID: %d, User: %s, Time: %s", id, username, start.Format(domain.TimeLayout))
	name := FileName(id)
	path := filepath.Join(g.dir, name)

	if err := qrcode.WriteFile(summary, qrcode.Medium, qrSize, path); err != nil {
		// do not leave a truncated image behind
		_ = os.Remove(path)
		return "", fmt.Errorf("encode receipt qr: %w", err)
	}

	if g.mirror != nil {
		if _, err := g.mirror.UploadFile(ctx, path, g.mirrorTo); err != nil {
			g.logger.WithError(err).Warnf("mirror receipt %s", name)
		}
	}

	return name, nil
}

// FileName returns the receipt image name for a reservation.
func FileName(id int64) string {
	return fmt.Sprintf("receipt_%d.png", id)
}
