package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jo-hoe/medisnap/internal/common"
)

const maxNameAttempts = 100

// ErrNoFile is returned when the request carried no upload.
var ErrNoFile = errors.New("no file provided")

// Upload describes an image stored on disk.
type Upload struct {
	Path     string // location of the stored bytes
	Filename string // original client filename
	MimeType string
	Size     int64
}

// Remove deletes the stored file.
func (u Upload) Remove() error {
	return os.Remove(u.Path)
}

// Uploader handles storing uploads on disk.
type Uploader struct {
	baseDir string
	now     func() time.Time
}

// NewUploader creates an uploader that stores to baseDir/uploads.
func NewUploader(baseDir string) *Uploader {
	return &Uploader{baseDir: filepath.Join(baseDir, common.UploadsDirName), now: time.Now}
}

// Dir returns the directory uploads are written to.
func (u *Uploader) Dir() string {
	return u.baseDir
}

// SaveMultipart stores an uploaded file as <unix-millis>-<filename>. Any
// content is accepted; at most maxBytes are written when maxBytes > 0.
// Stored files are kept until the caller removes them.
func (u *Uploader) SaveMultipart(fileHeader *multipart.FileHeader, maxBytes int64) (Upload, error) {
	if fileHeader == nil {
		return Upload{}, ErrNoFile
	}

	if err := os.MkdirAll(u.baseDir, 0o750); err != nil {
		return Upload{}, fmt.Errorf("ensure uploads dir: %w", err)
	}

	src, err := fileHeader.Open()
	if err != nil {
		return Upload{}, fmt.Errorf("open uploaded file: %w", err)
	}
	defer func() { _ = src.Close() }()

	dst, dstPath, err := u.create(sanitizeFilename(fileHeader.Filename))
	if err != nil {
		return Upload{}, err
	}
	defer func() { _ = dst.Close() }()

	var r io.Reader = src
	if maxBytes > 0 {
		r = io.LimitReader(src, maxBytes)
	}
	n, err := io.Copy(dst, r)
	if err != nil {
		_ = os.Remove(dstPath)
		return Upload{}, fmt.Errorf("copy upload: %w", err)
	}

	return Upload{
		Path:     dstPath,
		Filename: fileHeader.Filename,
		MimeType: detectMime(fileHeader),
		Size:     n,
	}, nil
}

// create opens a new file named <unix-millis>-<original>. Uploads sharing a
// millisecond and a filename get a counter after the timestamp.
func (u *Uploader) create(original string) (*os.File, string, error) {
	stamp := strconv.FormatInt(u.now().UnixMilli(), 10)
	for i := 0; i < maxNameAttempts; i++ {
		name := stamp + "-" + original
		if i > 0 {
			name = stamp + "-" + strconv.Itoa(i) + "-" + original
		}
		p := filepath.Join(u.baseDir, name)
		f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640) // #nosec G304 - name is reduced to a base name
		if err == nil {
			return f, p, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("create upload file: %w", err)
		}
	}
	return nil, "", fmt.Errorf("create upload file: too many uploads named %q", original)
}

// detectMime prefers the part header, then the file extension, then image/jpeg.
func detectMime(fileHeader *multipart.FileHeader) string {
	mt := strings.TrimSpace(fileHeader.Header.Get("Content-Type"))
	if mt == "" || strings.EqualFold(mt, common.MimeOctetStream) {
		mt = mime.TypeByExtension(strings.ToLower(filepath.Ext(fileHeader.Filename)))
	}
	if mt == "" {
		return common.DefaultUploadMimeType
	}
	// Drop parameters such as "; charset=binary".
	if base, _, err := mime.ParseMediaType(mt); err == nil {
		return base
	}
	return mt
}

func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(name)
	base = strings.Map(func(r rune) rune {
		if r < 0x20 || r == '/' || r == 0x7f {
			return '_'
		}
		return r
	}, base)
	if base == "." || base == "" || base == string(filepath.Separator) {
		return "upload"
	}
	return base
}
