package api

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"

	"inkpost/internal/models"
	"inkpost/internal/ratelimit"

	"github.com/gorilla/mux"
)

// ServeMedia handles GET and HEAD /media/{name}
// Files are opened through an os.Root, so names cannot escape the media
// directory. Conditional requests are answered by http.ServeContent.
func (h *Handlers) ServeMedia(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	f, err := h.media.Open(name)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Failed to open media file", "name", name, "error", err)
		}
		h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, "file not found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, "file not found")
		return
	}

	w.Header().Set("ETag", mediaETag(info))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if h.mediaCfg.CacheControl != "" {
		w.Header().Set("Cache-Control", h.mediaCfg.CacheControl)
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// mediaETag derives a strong validator from size and modification time.
func mediaETag(info fs.FileInfo) string {
	return `"` + strconv.FormatInt(info.Size(), 36) + "-" + strconv.FormatInt(info.ModTime().UnixNano(), 36) + `"`
}

// mediaThrottle applies the media budgets per client, file and method.
// HEAD and GET draw on separate budgets; a throttled HEAD gets no body.
func mediaThrottle(limiter *ratelimit.Limiter, policies ratelimit.Policies) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			purpose, policy := ratelimit.PurposeMediaGet, policies.MediaGet
			if r.Method == http.MethodHead {
				purpose, policy = ratelimit.PurposeMediaHead, policies.MediaHead
			}

			key := ratelimit.Key{Purpose: purpose, Identity: ratelimit.ClientIP(r), Sub: mux.Vars(r)["name"]}
			res := limiter.Attempt(r.Context(), key, policy)
			res.WriteHeaders(w)
			if res.OK {
				next.ServeHTTP(w, r)
				return
			}

			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			ratelimit.WriteTooManyRequests(w, "Too many requests, please retry later")
		})
	}
}
