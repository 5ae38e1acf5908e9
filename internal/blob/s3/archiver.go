package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path"
	"time"

	"github.com/alanyoungcy/arbengine/internal/arbitrage"
	"github.com/alanyoungcy/arbengine/internal/domain"
)

// ArchivePrefix is the key prefix of archived contexts.
const ArchivePrefix = "arbitrage/"

const archiveTimeout = 30 * time.Second

// ArchivePath is the object key of the archived context id.
func ArchivePath(id string) string {
	return path.Join(ArchivePrefix, id+".json")
}

// Archiver is a saga interceptor that uploads a context as JSON once it
// finishes, or once it halts after an order was placed.
type Archiver struct {
	writer domain.BlobWriter
	logger *slog.Logger
}

func NewArchiver(writer domain.BlobWriter, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

func (a *Archiver) BeforeState(context.Context, *arbitrage.Context) error { return nil }

func (a *Archiver) AfterState(ctx context.Context, ac *arbitrage.Context, stepErr error) {
	finished := stepErr == nil && ac.State == arbitrage.StateFinished
	halted := stepErr != nil && ac.BuyOrderID != ""
	if !finished && !halted {
		return
	}

	if err := a.Archive(ctx, ac); err != nil {
		a.logger.ErrorContext(ctx, "archive arbitrage context failed",
			slog.String("context_id", ac.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Archive uploads ac regardless of state. The upload outlives ctx
// cancellation so a shutdown mid-saga still leaves a record.
func (a *Archiver) Archive(ctx context.Context, ac *arbitrage.Context) error {
	body, err := json.MarshalIndent(ac, "", "  ")
	if err != nil {
		return err
	}
	uploadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()

	key := ArchivePath(ac.ID)
	if err := a.writer.Put(uploadCtx, key, bytes.NewReader(body), "application/json"); err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "arbitrage context archived",
		slog.String("context_id", ac.ID),
		slog.String("key", key),
		slog.Int("bytes", len(body)),
	)
	return nil
}

var _ arbitrage.Interceptor = (*Archiver)(nil)
