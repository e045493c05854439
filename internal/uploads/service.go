// Package uploads stores user files in the configured storage provider and
// keeps a text excerpt of text-like files for chat attachments.
package uploads

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Winger29/FSDP-Assignment2/internal/apierr"
	"github.com/Winger29/FSDP-Assignment2/internal/logging"
	"github.com/Winger29/FSDP-Assignment2/internal/storage"
	"github.com/Winger29/FSDP-Assignment2/pkg/models"
)

// MaxTextBytes is how much of a text file is kept for prompts
const MaxTextBytes = 64 * 1024

var ErrTooLarge = apierr.New(apierr.ErrInvalid, "FILE_TOO_LARGE", "file exceeds the upload size limit")

// Service manages uploads
type Service struct {
	db       *gorm.DB
	store    storage.Provider
	maxBytes int64
}

// NewService creates an upload service. maxBytes <= 0 means 10 MiB.
func NewService(db *gorm.DB, store storage.Provider, maxBytes int64) *Service {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &Service{db: db, store: store, maxBytes: maxBytes}
}

// MaxBytes returns the upload size limit
func (s *Service) MaxBytes() int64 {
	return s.maxBytes
}

// IsTextLike reports whether a file's text should be kept for prompts
func IsTextLike(contentType, fileName string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct == "" || ct == "application/octet-stream" {
		ct = mime.TypeByExtension(strings.ToLower(filepath.Ext(fileName)))
		if i := strings.Index(ct, ";"); i >= 0 {
			ct = ct[:i]
		}
	}
	switch {
	case strings.HasPrefix(ct, "text/"):
		return true
	case ct == "application/json", ct == "application/xml", ct == "application/x-yaml", ct == "application/yaml":
		return true
	}
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".md", ".markdown", ".txt", ".csv", ".json", ".yaml", ".yml", ".log":
		return true
	}
	return false
}

// prefixBuffer keeps the first limit bytes written to it
type prefixBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (p *prefixBuffer) Write(b []byte) (int, error) {
	if room := p.limit - p.buf.Len(); room > 0 {
		if len(b) > room {
			p.buf.Write(b[:room])
		} else {
			p.buf.Write(b)
		}
	}
	return len(b), nil
}

// text returns the captured prefix cut back to a rune boundary
func (p *prefixBuffer) text() string {
	b := p.buf.Bytes()
	for i := 0; i < utf8.UTFMax-1 && len(b) > 0 && !utf8.Valid(b); i++ {
		b = b[:len(b)-1]
	}
	return strings.ToValidUTF8(string(b), "")
}

// Create stores a file for the owner
func (s *Service) Create(ctx context.Context, ownerID uint, fileName, contentType string, size int64, data io.Reader) (*models.Upload, error) {
	fileName = filepath.Base(strings.TrimSpace(fileName))
	if fileName == "" || fileName == "." || fileName == "/" {
		return nil, apierr.Invalidf("file name is required")
	}
	if size > s.maxBytes {
		return nil, ErrTooLarge
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := fmt.Sprintf("uploads/%d/%s%s", ownerID, uuid.NewString(), strings.ToLower(filepath.Ext(fileName)))
	counter := &countingReader{r: io.LimitReader(data, s.maxBytes+1)}
	var reader io.Reader = counter

	var excerpt *prefixBuffer
	if IsTextLike(contentType, fileName) {
		excerpt = &prefixBuffer{limit: MaxTextBytes}
		reader = io.TeeReader(counter, excerpt)
	}

	if err := s.store.Put(ctx, key, reader, size, contentType); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	if counter.n > s.maxBytes {
		_ = s.store.Delete(ctx, key)
		return nil, ErrTooLarge
	}

	upload := &models.Upload{
		OwnerID:     ownerID,
		FileName:    fileName,
		ContentType: contentType,
		Size:        counter.n,
		StorageKey:  key,
	}
	if excerpt != nil {
		upload.TextContent = excerpt.text()
	}
	if err := s.db.WithContext(ctx).Create(upload).Error; err != nil {
		_ = s.store.Delete(ctx, key)
		return nil, err
	}
	return upload, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// List returns the owner's uploads, newest first
func (s *Service) List(ctx context.Context, ownerID uint) ([]models.Upload, error) {
	uploads := []models.Upload{}
	err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&uploads).Error
	return uploads, err
}

// Get returns an upload owned by the user
func (s *Service) Get(ctx context.Context, ownerID, id uint) (*models.Upload, error) {
	var upload models.Upload
	err := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&upload).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("upload")
	}
	if err != nil {
		return nil, err
	}
	return &upload, nil
}

// Open returns the upload and a reader over its content. The caller closes it.
func (s *Service) Open(ctx context.Context, ownerID, id uint) (*models.Upload, io.ReadCloser, error) {
	upload, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.store.Open(ctx, upload.StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, apierr.NotFound("upload content")
	}
	if err != nil {
		return nil, nil, err
	}
	return upload, rc, nil
}

// Delete removes the stored object and soft-deletes the row
func (s *Service) Delete(ctx context.Context, ownerID, id uint) error {
	upload, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, upload.StorageKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
		logging.L().Warn("Failed to delete stored upload", zap.String("key", upload.StorageKey), zap.Error(err))
	}
	return s.db.WithContext(ctx).Delete(upload).Error
}

// Attachments resolves upload ids for a chat message. Every id must belong
// to the owner.
func (s *Service) Attachments(ctx context.Context, ownerID uint, ids []uint) ([]models.Upload, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var uploads []models.Upload
	if err := s.db.WithContext(ctx).Where("owner_id = ? AND id IN ?", ownerID, ids).Find(&uploads).Error; err != nil {
		return nil, err
	}
	found := make(map[uint]bool, len(uploads))
	for _, u := range uploads {
		found[u.ID] = true
	}
	for _, id := range ids {
		if !found[id] {
			return nil, apierr.NotFound(fmt.Sprintf("upload %d", id))
		}
	}
	return uploads, nil
}
