// Package archive exports finished reports to blob storage and announces them.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-brief/internal/brief"
	hashsha "github.com/JakeFAU/seo-brief/internal/hash/sha256"
)

// Config controls where reports land and which topic hears about them.
type Config struct {
	Prefix      string
	ContentType string
	Topic       string
}

// ReportReady is the notification published after a report is stored.
type ReportReady struct {
	JobID       string    `json:"job_id"`
	Topic       string    `json:"topic"`
	BlobURI     string    `json:"blob_uri"`
	Hash        string    `json:"hash"`
	Competitors int       `json:"competitors"`
	Timestamp   time.Time `json:"timestamp"`
}

// Attributes exposes routing keys as message attributes.
func (r ReportReady) Attributes() map[string]string {
	return map[string]string{
		"job_id":      r.JobID,
		"competitors": strconv.Itoa(r.Competitors),
	}
}

// Archiver writes reports through a BlobStore and optionally publishes a notice.
type Archiver struct {
	blobStore brief.BlobStore
	publisher brief.Publisher
	hasher    brief.Hasher
	clock     brief.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Archiver. publisher may be nil.
func New(
	blobStore brief.BlobStore,
	publisher brief.Publisher,
	hasher brief.Hasher,
	clock brief.Clock,
	cfg Config,
	logger *zap.Logger,
) *Archiver {
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		blobStore: blobStore,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Archive stores the rendered report and publishes a ReportReady notice.
func (a *Archiver) Archive(ctx context.Context, job brief.Job, html string) (ReportReady, error) {
	body := []byte(html)
	hash, err := a.hasher.Hash(body)
	if err != nil {
		return ReportReady{}, fmt.Errorf("hash report: %w", err)
	}

	now := a.clock.Now().UTC()
	blobPath := a.buildBlobPath(now, job.ID, hash)
	uri, err := a.blobStore.PutObject(ctx, blobPath, a.cfg.ContentType, bytes.NewReader(body))
	if err != nil {
		return ReportReady{}, fmt.Errorf("put object: %w", err)
	}

	notice := ReportReady{
		JobID:       job.ID,
		Topic:       job.Topic,
		BlobURI:     uri,
		Hash:        hash,
		Competitors: len(job.Competitors),
		Timestamp:   now,
	}
	a.logger.Info("report archived", zap.String("job_id", job.ID), zap.String("blob_uri", uri))

	if err := a.publish(ctx, notice); err != nil {
		return notice, err
	}
	return notice, nil
}

func (a *Archiver) publish(ctx context.Context, notice ReportReady) error {
	if a.cfg.Topic == "" || a.publisher == nil {
		return nil
	}
	msgID, err := a.publisher.Publish(ctx, a.cfg.Topic, notice)
	if err != nil {
		return fmt.Errorf("publish report notice: %w", err)
	}
	a.logger.Info("report notice published",
		zap.String("job_id", notice.JobID),
		zap.String("topic", a.cfg.Topic),
		zap.String("message_id", msgID),
	)
	return nil
}

// buildBlobPath lays reports out as <prefix>/YYYY/MM/DD/<job>-<hash12>.html.
func (a *Archiver) buildBlobPath(now time.Time, jobID, hash string) string {
	name := fmt.Sprintf("%s/%s-%s.html", now.Format("2006/01/02"), jobID, hashsha.Short(hash))
	prefix := strings.Trim(a.cfg.Prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
