// Package report collects completed topics across the catalog and asks the
// coach for the holistic cross-module report.
package report

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"github.com/kalambet/innercompass/internal/catalog"
	"github.com/kalambet/innercompass/internal/coach"
	"github.com/kalambet/innercompass/internal/metrics"
	"github.com/kalambet/innercompass/internal/progress"
	"golang.org/x/sync/singleflight"
)

const (
	// EmptyReportText is returned without calling the coach when the user has
	// not completed any topic.
	EmptyReportText = "请先完成至少一个议题的探索。"
	// FallbackText may be shown when report generation fails.
	FallbackText = "无法生成整体报告。"
)

// Request is the ordered set of completed topics sent to the coach.
type Request []coach.ReportEntry

// Generator is implemented by coach.Client.
type Generator interface {
	HolisticReport(ctx context.Context, entries []coach.ReportEntry) (string, error)
}

// Collect walks the catalog in order and returns an entry for every topic the
// record marks completed. Progress for topics missing from the catalog is
// ignored.
func Collect(cat *catalog.Catalog, rec progress.UserRecord) Request {
	var req Request
	for _, m := range cat.Modules() {
		for _, t := range m.Topics {
			key := catalog.TopicKey{Module: m.ID, Topic: t.ID}
			p, ok := rec.Progress[key]
			if !ok || !p.IsCompleted {
				continue
			}
			req = append(req, coach.ReportEntry{
				Key:         key,
				ModuleTitle: m.Title,
				TopicTitle:  t.Title,
				UserSummary: p.UserSummary,
				AISummary:   p.AISummary,
			})
		}
	}
	return req
}

// Aggregator builds reports. Nothing is cached: every Build regenerates.
// Concurrent builds of the same report for the same user share one
// generation call.
type Aggregator struct {
	catalog   *catalog.Catalog
	generator Generator
	metrics   *metrics.Collector
	logger    *slog.Logger

	flight singleflight.Group
}

func NewAggregator(cat *catalog.Catalog, gen Generator, m *metrics.Collector) *Aggregator {
	return &Aggregator{
		catalog:   cat,
		generator: gen,
		metrics:   m,
		logger:    slog.Default(),
	}
}

// Build returns the holistic report for rec, or EmptyReportText when no
// topic is completed. Generation failures are returned as the coach's
// *coach.ServiceError.
func (a *Aggregator) Build(ctx context.Context, rec progress.UserRecord) (string, error) {
	req := Collect(a.catalog, rec)
	if len(req) == 0 {
		a.metrics.ReportBuilt("empty")
		return EmptyReportText, nil
	}

	ch := a.flight.DoChan(flightKey(rec.ID, req), func() (interface{}, error) {
		// Detached so one waiter giving up does not fail the others.
		return a.generator.HolisticReport(context.WithoutCancel(ctx), req)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			a.metrics.ReportBuilt("failed")
			a.logger.Warn("report generation failed", "user", rec.ID, "topics", len(req), "error", res.Err)
			return "", res.Err
		}
		a.metrics.ReportBuilt("generated")
		return res.Val.(string), nil
	}
}

// flightKey identifies a build by user and by the exact summaries it would
// send, so a build over changed summaries never joins a stale one.
func flightKey(userID string, req Request) string {
	h := sha256.New()
	for _, e := range req {
		for _, s := range []string{e.Key.String(), e.UserSummary, e.AISummary} {
			h.Write([]byte(s))
			h.Write([]byte{0})
		}
	}
	return userID + ":" + hex.EncodeToString(h.Sum(nil))
}
