// Package storage is the file-upload collaborator used for message
// attachments and conversation avatars.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"parley/internal/config"
	"parley/internal/models"

	"github.com/chai2010/webp"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

const (
	DefaultUploadDir     = "/tmp/parley/uploads"
	DefaultUploadBaseURL = "/media"
	DefaultMaxUploadMB   = 50
	ThumbnailMaxSize     = 256
	WebPQuality          = 70

	thumbSuffix = "_thumb.webp"
)

// Folders group stored files by purpose.
const (
	FolderAttachments = "attachments"
	FolderAvatars     = "avatars"
)

// UploadInput is one file as received from the caller.
type UploadInput struct {
	Filename    string
	ContentType string
	Content     []byte
}

// StoredFile describes a file after it has been written.
type StoredFile struct {
	FileName     string
	URL          string
	ContentType  string
	Size         int64
	MediaType    models.AttachmentType
	ThumbnailURL string
	Width        *int
	Height       *int
}

// FileStore uploads and deletes files and validates them beforehand.
type FileStore interface {
	Upload(ctx context.Context, folder string, in UploadInput) (*StoredFile, error)
	Delete(ctx context.Context, url string) error
	Exists(url string) bool
	ValidateExtension(filename string) error
	ValidateSize(size int64) error
}

// LocalStore keeps files on an afero filesystem and serves them under a base URL.
type LocalStore struct {
	fs       afero.Fs
	root     string
	baseURL  string
	maxBytes int64
	allowed  map[string]struct{}
	now      func() time.Time
}

// NewLocalStore creates a LocalStore on fs configured from cfg.
func NewLocalStore(fs afero.Fs, cfg *config.Config) *LocalStore {
	s := &LocalStore{
		fs:       fs,
		root:     DefaultUploadDir,
		baseURL:  DefaultUploadBaseURL,
		maxBytes: DefaultMaxUploadMB * 1024 * 1024,
		allowed:  make(map[string]struct{}),
		now:      time.Now,
	}
	if cfg != nil {
		if cfg.UploadDir != "" {
			s.root = cfg.UploadDir
		}
		if cfg.UploadBaseURL != "" {
			s.baseURL = strings.TrimRight(cfg.UploadBaseURL, "/")
		}
		if cfg.MaxUploadMB > 0 {
			s.maxBytes = cfg.MaxUploadMB * 1024 * 1024
		}
		for _, ext := range cfg.Extensions() {
			s.allowed[ext] = struct{}{}
		}
	}
	return s
}

// Root returns the directory files are written under.
func (s *LocalStore) Root() string { return s.root }

// ValidateExtension rejects file names whose extension is not allowed.
func (s *LocalStore) ValidateExtension(filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return models.NewValidationError("File has no extension")
	}
	if len(s.allowed) == 0 {
		return nil
	}
	if _, ok := s.allowed[ext]; !ok {
		return models.NewValidationError(fmt.Sprintf("File type %s is not allowed", ext))
	}
	return nil
}

// ValidateSize rejects empty or oversized files.
func (s *LocalStore) ValidateSize(size int64) error {
	if size <= 0 {
		return models.NewValidationError("File is empty")
	}
	if size > s.maxBytes {
		return models.NewValidationError(fmt.Sprintf("File too large (max %dMB)", s.maxBytes/(1024*1024)))
	}
	return nil
}

// Upload validates and writes in under folder. Images are probed for
// dimensions and get a WebP thumbnail.
func (s *LocalStore) Upload(_ context.Context, folder string, in UploadInput) (*StoredFile, error) {
	if err := s.ValidateExtension(in.Filename); err != nil {
		return nil, err
	}
	if err := s.ValidateSize(int64(len(in.Content))); err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(in.Filename))
	contentType := resolveContentType(in.ContentType, ext, in.Content)
	now := s.now().UTC()
	rel := path.Join(folder, now.Format("2006"), now.Format("01"), uuid.NewString()+ext)

	out := &StoredFile{
		FileName:    filepath.Base(in.Filename),
		URL:         s.urlFor(rel),
		ContentType: contentType,
		Size:        int64(len(in.Content)),
		MediaType:   models.AttachmentTypeFor(contentType),
	}

	var thumb []byte
	if out.MediaType == models.AttachmentImage {
		decoded, _, err := image.Decode(bytes.NewReader(in.Content))
		if err != nil {
			return nil, models.NewValidationError("Invalid image file")
		}
		b := decoded.Bounds()
		w, h := b.Dx(), b.Dy()
		out.Width, out.Height = &w, &h

		thumb, err = encodeWebP(resizeToFit(decoded, ThumbnailMaxSize, ThumbnailMaxSize), WebPQuality)
		if err != nil {
			return nil, models.NewInternalError(err)
		}
	}

	if err := s.write(rel, in.Content); err != nil {
		return nil, models.NewInternalError(err)
	}
	if thumb != nil {
		thumbRel := strings.TrimSuffix(rel, ext) + thumbSuffix
		if err := s.write(thumbRel, thumb); err != nil {
			_ = s.fs.Remove(s.abs(rel))
			return nil, models.NewInternalError(err)
		}
		out.ThumbnailURL = s.urlFor(thumbRel)
	}
	return out, nil
}

// Delete removes the file behind url and its thumbnail. Missing files are
// not an error.
func (s *LocalStore) Delete(_ context.Context, url string) error {
	rel, ok := s.relFor(url)
	if !ok {
		return models.NewValidationError("Invalid file URL")
	}
	if err := s.fs.Remove(s.abs(rel)); err != nil && !os.IsNotExist(err) {
		return models.NewInternalError(err)
	}
	thumbRel := strings.TrimSuffix(rel, path.Ext(rel)) + thumbSuffix
	if err := s.fs.Remove(s.abs(thumbRel)); err != nil && !os.IsNotExist(err) {
		return models.NewInternalError(err)
	}
	return nil
}

// Exists reports whether the file behind url is present.
func (s *LocalStore) Exists(url string) bool {
	rel, ok := s.relFor(url)
	if !ok {
		return false
	}
	found, err := afero.Exists(s.fs, s.abs(rel))
	return err == nil && found
}

func (s *LocalStore) write(rel string, data []byte) error {
	full := s.abs(rel)
	if err := s.fs.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return err
	}
	return afero.WriteFile(s.fs, full, data, 0o640)
}

func (s *LocalStore) abs(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

func (s *LocalStore) urlFor(rel string) string {
	return s.baseURL + "/" + rel
}

// relFor maps a served URL back to a path under root, refusing traversal.
func (s *LocalStore) relFor(url string) (string, bool) {
	prefix := s.baseURL + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", false
	}
	rel := path.Clean(strings.TrimPrefix(url, prefix))
	if rel == "." || strings.HasPrefix(rel, "../") || rel == ".." || path.IsAbs(rel) {
		return "", false
	}
	return rel, true
}

func resolveContentType(declared, ext string, content []byte) string {
	ct := normalizeContentType(declared)
	if ct != "" && ct != "application/octet-stream" {
		return ct
	}
	if byExt := normalizeContentType(mime.TypeByExtension(ext)); byExt != "" {
		return byExt
	}
	return normalizeContentType(http.DetectContentType(content))
}

func normalizeContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return strings.ToLower(mediaType)
}

func resizeToFit(src image.Image, maxWidth, maxHeight int) image.Image {
	bounds := src.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	if w <= 0 || h <= 0 {
		return src
	}
	if w <= maxWidth && h <= maxHeight {
		return src
	}

	scale := float64(maxWidth) / float64(w)
	if scaleH := float64(maxHeight) / float64(h); scaleH < scale {
		scale = scaleH
	}
	newW := int(float64(w) * scale)
	newH := int(float64(h) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)
	return dst
}

func encodeWebP(img image.Image, quality int) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := webp.Encode(buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
