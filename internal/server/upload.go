package server

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ZacxDev/clip-composer/internal/processor"
	"github.com/pkg/errors"
)

// Multipart field names accepted by POST /generate.
const (
	fieldHook     = "hook"
	fieldBody     = "body"
	fieldCTA      = "cta"
	fieldOverlays = "overlays"
	fieldBrolls   = "brolls"
	fieldMusic    = "music"
)

var safeExt = regexp.MustCompile(`^\.[a-z0-9]{1,5}$`)

func hasRequiredClips(form *multipart.Form) bool {
	for _, field := range []string{fieldHook, fieldBody, fieldCTA} {
		if len(form.File[field]) == 0 {
			return false
		}
	}
	return true
}

// saveUploads writes every accepted upload into dir and returns the request
// referencing them. Only the first file of single-asset fields is used.
func saveUploads(form *multipart.Form, dir string) (*processor.Request, error) {
	req := &processor.Request{}

	single := []struct {
		field  string
		target *string
		ext    string
	}{
		{fieldHook, &req.Hook, ".mp4"},
		{fieldBody, &req.Body, ".mp4"},
		{fieldCTA, &req.CTA, ".mp4"},
		{fieldOverlays, &req.Overlay, ".mp4"},
		{fieldMusic, &req.Music, ".mp3"},
	}
	for _, s := range single {
		files := form.File[s.field]
		if len(files) == 0 {
			continue
		}
		path, err := saveFile(files[0], dir, s.field, s.ext)
		if err != nil {
			return nil, err
		}
		*s.target = path
	}

	for i, fh := range form.File[fieldBrolls] {
		path, err := saveFile(fh, dir, fmt.Sprintf("broll_%d", i), ".mp4")
		if err != nil {
			return nil, err
		}
		req.Brolls = append(req.Brolls, path)
	}
	return req, nil
}

func saveFile(fh *multipart.FileHeader, dir, base, fallbackExt string) (string, error) {
	dst := filepath.Join(dir, base+uploadExt(fh.Filename, fallbackExt))

	src, err := fh.Open()
	if err != nil {
		return "", errors.Wrapf(err, "failed to open upload %s", base)
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", errors.Wrapf(err, "failed to create %s", dst)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return "", errors.Wrapf(err, "failed to write %s", dst)
	}
	if err := out.Close(); err != nil {
		return "", errors.Wrapf(err, "failed to write %s", dst)
	}
	return dst, nil
}

// uploadExt keeps the client's extension so FFmpeg can pick a demuxer, falling
// back when it is missing or unusual.
func uploadExt(filename, fallback string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if !safeExt.MatchString(ext) {
		return fallback
	}
	return ext
}
