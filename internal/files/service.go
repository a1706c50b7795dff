// Package files answers downstream queries about a quote's files and records
// new uploads as versioned files.
package files

import (
	"context"
	"fmt"
	"strings"
	"time"

	"quotesync/internal/model"
	"quotesync/internal/objectstore"
	"quotesync/internal/preview"
	"quotesync/internal/qsync"
)

// PreviewLink is one rendition of a file's latest version.
type PreviewLink struct {
	SizeClass string `json:"size_class"`
	URL       string `json:"url"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// QuoteFile is a file with its latest version and preview links.
type QuoteFile struct {
	ID          string        `json:"id"`
	Kind        string        `json:"kind"`
	Title       string        `json:"title"`
	CreatedAt   time.Time     `json:"created_at"`
	VersionID   string        `json:"version_id"`
	StorageKey  string        `json:"storage_key"`
	MimeType    string        `json:"mime_type"`
	SizeBytes   int64         `json:"size_bytes"`
	Width       *int          `json:"width,omitempty"`
	Height      *int          `json:"height,omitempty"`
	OriginalURL string        `json:"original_url"`
	Previews    []PreviewLink `json:"previews"`
}

// UploadRequest describes a new file or version.
type UploadRequest struct {
	QuoteID      string
	Customer     string
	Subfolder    string
	Kind         string // derived from Subfolder when empty
	Title        string // OriginalName when empty
	OriginalName string
	Data         []byte
	ContentType  string
}

// Service reads and writes a quote's files through the active storage driver.
type Service struct {
	registry qsync.Registry
	driver   qsync.StorageDriver
	cache    *URLCache
	baseURL  string
	ttl      time.Duration
	ids      qsync.IDGenerator
	clock    qsync.Clock
	log      qsync.Logger
}

// NewService creates a Service. cache may be nil. ttl is the lifetime of
// signed URLs; baseURL is the static prefix used when signing fails.
func NewService(registry qsync.Registry, driver qsync.StorageDriver, cache *URLCache, baseURL string, ttl time.Duration, ids qsync.IDGenerator, clock qsync.Clock, log qsync.Logger) *Service {
	return &Service{
		registry: registry,
		driver:   driver,
		cache:    cache,
		baseURL:  baseURL,
		ttl:      ttl,
		ids:      ids,
		clock:    clock,
		log:      log,
	}
}

// ListQuoteFiles returns the non-deleted files of a quote, oldest first.
// Files without a version are omitted.
func (s *Service) ListQuoteFiles(ctx context.Context, quoteID string) ([]QuoteFile, error) {
	if strings.TrimSpace(quoteID) == "" {
		return nil, qsync.InvalidArgument("quote id required")
	}

	list, err := s.registry.ListFilesByQuote(ctx, quoteID)
	if err != nil {
		return nil, fmt.Errorf("listing files of quote %s: %w", quoteID, err)
	}

	out := make([]QuoteFile, 0, len(list))
	for _, f := range list {
		v, err := s.registry.LatestVersion(ctx, f.ID)
		if err != nil {
			return nil, fmt.Errorf("getting latest version of %s: %w", f.ID, err)
		}
		if v == nil {
			continue
		}
		previews, err := s.registry.ListPreviews(ctx, v.ID)
		if err != nil {
			return nil, fmt.Errorf("listing previews of %s: %w", v.ID, err)
		}

		qf := QuoteFile{
			ID:          f.ID,
			Kind:        f.Kind,
			Title:       f.Title,
			CreatedAt:   f.CreatedAt,
			VersionID:   v.ID,
			StorageKey:  v.StorageKey,
			MimeType:    v.MimeType,
			SizeBytes:   v.SizeBytes,
			Width:       v.Width,
			Height:      v.Height,
			OriginalURL: s.url(ctx, v.StorageKey),
			Previews:    make([]PreviewLink, 0, len(previews)),
		}
		for _, p := range previews {
			qf.Previews = append(qf.Previews, PreviewLink{
				SizeClass: p.SizeClass,
				URL:       s.url(ctx, p.StorageKey),
				Width:     p.Width,
				Height:    p.Height,
			})
		}
		out = append(out, qf)
	}
	return out, nil
}

// url signs key, serving from the cache when possible. A signing failure
// falls back to the unsigned static path.
func (s *Service) url(ctx context.Context, key string) string {
	if s.cache != nil {
		if u, ok := s.cache.Get(key); ok {
			return u
		}
	}

	u, err := s.driver.SignedURL(ctx, key, s.ttl)
	if err != nil {
		s.log.Warn("signing url failed, using static path", "key", key, "error", err)
		return objectstore.StaticURL(s.baseURL, key)
	}
	if s.cache != nil {
		if err := s.cache.Set(key, u, s.ttl/2); err != nil {
			s.log.Debug("caching url failed", "key", key, "error", err)
		}
	}
	return u
}

// RegisterUpload saves the bytes and records a new File with its first
// version. If the registry insert fails the upload stays indexed by its
// attachment row and the next preview backfill picks it up.
func (s *Service) RegisterUpload(ctx context.Context, req UploadRequest) (*model.File, *model.FileVersion, error) {
	res, err := s.save(ctx, req.QuoteID, req.Customer, req)
	if err != nil {
		return nil, nil, err
	}

	now := s.clock.Now()
	kind := req.Kind
	if kind == "" {
		kind = preview.KindFromSubfolder(req.Subfolder)
	}
	title := req.Title
	if title == "" {
		title = req.OriginalName
	}
	f := &model.File{
		ID:        s.ids.New(),
		QuoteID:   strings.TrimSpace(req.QuoteID),
		Customer:  strings.TrimSpace(req.Customer),
		Kind:      kind,
		Title:     title,
		CreatedAt: now,
	}
	v := s.version(f.ID, res, req.Data, now)

	if err := s.registry.CreateFileWithVersion(ctx, f, v); err != nil {
		return nil, nil, fmt.Errorf("recording file %s: %w", res.ObjectKey, err)
	}
	s.log.Info("file registered", "file", f.ID, "quote", f.QuoteID, "key", v.StorageKey)
	return f, v, nil
}

// AddVersion stores a new immutable version of an existing file.
func (s *Service) AddVersion(ctx context.Context, fileID string, req UploadRequest) (*model.FileVersion, error) {
	f, err := s.liveFile(ctx, fileID)
	if err != nil {
		return nil, err
	}

	res, err := s.save(ctx, f.QuoteID, f.Customer, req)
	if err != nil {
		return nil, err
	}
	v := s.version(f.ID, res, req.Data, s.clock.Now())
	if err := s.registry.AddFileVersion(ctx, v); err != nil {
		return nil, fmt.Errorf("recording version %s: %w", res.ObjectKey, err)
	}
	s.log.Info("file version added", "file", f.ID, "version", v.ID, "key", v.StorageKey)
	return v, nil
}

// Delete soft-deletes a file and drops the cached URLs of its latest
// version and previews. Stored objects are kept.
func (s *Service) Delete(ctx context.Context, fileID string) error {
	if _, err := s.liveFile(ctx, fileID); err != nil {
		return err
	}
	if err := s.registry.SoftDeleteFile(ctx, fileID, s.clock.Now()); err != nil {
		return fmt.Errorf("deleting file %s: %w", fileID, err)
	}
	if s.cache != nil {
		s.forget(ctx, fileID)
	}
	return nil
}

func (s *Service) forget(ctx context.Context, fileID string) {
	v, err := s.registry.LatestVersion(ctx, fileID)
	if err != nil || v == nil {
		return
	}
	keys := []string{v.StorageKey}
	if previews, err := s.registry.ListPreviews(ctx, v.ID); err == nil {
		for _, p := range previews {
			keys = append(keys, p.StorageKey)
		}
	}
	for _, k := range keys {
		if err := s.cache.Invalidate(k); err != nil {
			s.log.Debug("dropping cached url failed", "key", k, "error", err)
		}
	}
}

func (s *Service) liveFile(ctx context.Context, fileID string) (*model.File, error) {
	f, err := s.registry.GetFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("getting file %s: %w", fileID, err)
	}
	if f == nil || f.DeletedAt != nil {
		return nil, fmt.Errorf("file %s: %w", fileID, qsync.ErrNotFound)
	}
	return f, nil
}

func (s *Service) save(ctx context.Context, quoteID, customer string, req UploadRequest) (*qsync.SaveResult, error) {
	res, err := s.driver.Save(ctx, qsync.SaveRequest{
		OwnerType:    "quote",
		OwnerID:      quoteID,
		Customer:     customer,
		Subfolder:    req.Subfolder,
		OriginalName: req.OriginalName,
		Data:         req.Data,
		ContentType:  req.ContentType,
	})
	if err != nil {
		return nil, err
	}
	if res.Attachment.Err != nil {
		s.log.Debug("upload saved without attachment row", "key", res.ObjectKey)
	}
	return res, nil
}

func (s *Service) version(fileID string, res *qsync.SaveResult, data []byte, now time.Time) *model.FileVersion {
	v := &model.FileVersion{
		ID:          s.ids.New(),
		FileID:      fileID,
		StorageKey:  res.ObjectKey,
		MimeType:    res.ContentType,
		Ext:         preview.Ext(res.ObjectKey),
		SizeBytes:   res.SizeBytes,
		ContentHash: res.ContentHash,
		CreatedAt:   now,
	}
	if strings.HasPrefix(res.ContentType, "image/") {
		if w, h, ok := preview.Dimensions(data); ok {
			v.Width, v.Height = &w, &h
		}
	}
	return v
}
