package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// ComparisonReader returns the last stored comparison for a tag.
type ComparisonReader interface {
	Last(ctx context.Context, tag string) (domain.Comparison, error)
}

// ComparisonHandler serves the cached ask/bid comparison.
type ComparisonHandler struct {
	reader     ComparisonReader
	defaultTag string
	logger     *slog.Logger
}

func NewComparisonHandler(reader ComparisonReader, defaultTag string, logger *slog.Logger) *ComparisonHandler {
	return &ComparisonHandler{
		reader:     reader,
		defaultTag: defaultTag,
		logger:     logger.With(slog.String("handler", "comparison")),
	}
}

// Get returns the latest comparison without calling the venues.
// GET /api/comparison?tag=ask_bid_comparison
func (h *ComparisonHandler) Get(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	if tag == "" {
		tag = h.defaultTag
	}
	cmp, err := h.reader.Last(r.Context(), tag)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no comparison recorded for "+tag)
			return
		}
		logError(r, h.logger, "get comparison failed", err)
		writeError(w, http.StatusBadGateway, "failed to read comparison")
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}
