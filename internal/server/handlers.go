package server

import (
	_ "embed"
	"encoding/json"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/ZacxDev/clip-composer/internal/processor"
	"github.com/ZacxDev/clip-composer/internal/storage"
	"github.com/ZacxDev/clip-composer/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

//go:embed web/index.html
var indexHTML []byte

const (
	msgMissingClip = "Missing one of the required clips: hook, body, or cta."
	msgNotFound    = "File not found"
	// multipart parts above this size spill to disk
	maxFormMemory = 32 << 20
)

func (s *Server) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	s.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

// POST /generate
func (s *Server) Generate(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(zap.String("request_id", middleware.GetReqID(r.Context())))

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "upload exceeds the size limit", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	if !hasRequiredClips(r.MultipartForm) {
		http.Error(w, msgMissingClip, http.StatusBadRequest)
		return
	}

	if err := s.jobs.Acquire(r.Context(), 1); err != nil {
		http.Error(w, "server busy, try again later", http.StatusServiceUnavailable)
		return
	}
	defer s.jobs.Release(1)

	id := s.newID()
	workDir, err := os.MkdirTemp(s.cfg.WorkDir, "upload_"+id+"_")
	if err != nil {
		log.Error("failed to create work directory", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Warn("failed to remove work directory", zap.String("dir", workDir), zap.Error(err))
		}
	}()

	req, err := saveUploads(r.MultipartForm, workDir)
	if err != nil {
		log.Error("failed to persist uploads", zap.Error(err))
		http.Error(w, "failed to store uploads", http.StatusInternalServerError)
		return
	}
	name := id + ".mp4"
	req.OutputPath = filepath.Join(workDir, name)
	req.Platform = r.FormValue("platform")

	res, err := s.composer.Process(r.Context(), req)
	if err != nil {
		if r.Context().Err() != nil {
			log.Info("client went away during composition", zap.Error(err))
			return
		}
		code, msg := statusFor(err)
		log.Error("composition failed", zap.Int("status", code), zap.Error(err))
		http.Error(w, msg, code)
		return
	}
	for _, skipped := range res.Skipped {
		log.Warn("asset skipped", zap.String("asset", skipped.Asset), zap.String("reason", skipped.Reason))
	}

	if err := s.store.Save(r.Context(), name, res.OutputPath); err != nil {
		log.Error("failed to store output", zap.Error(err))
		http.Error(w, "failed to store output", http.StatusInternalServerError)
		return
	}

	log.Info("video generated", zap.String("artifact", name), zap.Float64("duration", res.Duration))
	s.json(w, http.StatusOK, types.GenerateResponse{DownloadURL: "/download/" + name})
}

// GET /download/{filename}
func (s *Server) Download(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")

	art, err := s.store.Open(r.Context(), name)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrInvalidName) {
			s.log.Error("failed to open artifact", zap.String("name", name), zap.Error(err))
		}
		http.Error(w, msgNotFound, http.StatusNotFound)
		return
	}
	defer art.Content.Close()

	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": art.Name}))
	http.ServeContent(w, r, art.Name, art.ModTime, art.Content)
}

// statusFor maps a pipeline error to a response status and client message.
func statusFor(err error) (int, string) {
	switch processor.KindOf(err) {
	case processor.KindValidation:
		return http.StatusBadRequest, err.Error()
	case processor.KindDecode:
		return http.StatusUnprocessableEntity, err.Error()
	case processor.KindComposition:
		return http.StatusInternalServerError, "failed to compose video"
	case processor.KindEncode:
		return http.StatusInternalServerError, "failed to export video"
	}
	return http.StatusInternalServerError, "internal error"
}
