package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/instafix/internal/grid"
	"github.com/JakeFAU/instafix/internal/logging"
	"github.com/JakeFAU/instafix/internal/post"
	"github.com/JakeFAU/instafix/internal/resolver"
	"github.com/JakeFAU/instafix/internal/shortcode"
)

const (
	gridCacheControl = "public, max-age=86400"
	// directAgent marks link-preview bots that fetch video URLs themselves.
	directAgent = "TelegramBot"
)

type postResponse struct {
	post.Post
	Summary string `json:"summary,omitempty"`
}

// lookup resolves the post named by the postID route param. It writes the
// error response itself and reports false when the handler should stop.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request, postID string) (post.Post, bool) {
	if !resolver.ValidID(postID) {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return post.Post{}, false
	}
	p := s.resolver.Resolve(r.Context(), postID)
	if p.Failed() {
		logging.FromContext(r.Context(), s.logger).Debug("post unavailable",
			zap.String("post_id", postID),
			zap.String("reason", p.Error),
		)
		writeError(w, http.StatusNotFound, "post unavailable")
		return post.Post{}, false
	}
	return p, true
}

func (s *Server) getPost(w http.ResponseWriter, r *http.Request) {
	s.writePost(w, r, chi.URLParam(r, "postID"))
}

func (s *Server) getStory(w http.ResponseWriter, r *http.Request) {
	postID, err := shortcode.PostIDFromMediaID(chi.URLParam(r, "mediaID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid media id")
		return
	}
	s.writePost(w, r, postID)
}

func (s *Server) writePost(w http.ResponseWriter, r *http.Request, postID string) {
	p, ok := s.lookup(w, r, postID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, postResponse{Post: p, Summary: post.Truncate(p.Caption)})
}

// item resolves the post and returns its 1-based media item n.
func (s *Server) item(w http.ResponseWriter, r *http.Request) (post.Media, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil || n < 1 {
		writeError(w, http.StatusNotFound, "media not found")
		return post.Media{}, false
	}
	p, ok := s.lookup(w, r, chi.URLParam(r, "postID"))
	if !ok {
		return post.Media{}, false
	}
	m, ok := p.Item(n)
	if !ok {
		writeError(w, http.StatusNotFound, "media not found")
		return post.Media{}, false
	}
	return m, true
}

func (s *Server) getImage(w http.ResponseWriter, r *http.Request) {
	m, ok := s.item(w, r)
	if !ok {
		return
	}
	http.Redirect(w, r, m.URL, http.StatusFound)
}

func (s *Server) getVideo(w http.ResponseWriter, r *http.Request) {
	m, ok := s.item(w, r)
	if !ok {
		return
	}
	if m.Kind != post.KindVideo {
		writeError(w, http.StatusNotFound, "media is not a video")
		return
	}
	target := m.URL
	if r.URL.Query().Get("direct") != "1" && !strings.Contains(r.UserAgent(), directAgent) {
		target = s.rewriter.Relay(target)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) getGrid(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "postID")
	p, ok := s.lookup(w, r, postID)
	if !ok {
		return
	}
	images := p.Images()
	if len(images) > grid.MaxImages {
		images = images[:grid.MaxImages]
	}
	urls := make([]string, len(images))
	for i, m := range images {
		urls[i] = m.URL
	}

	res, err := s.grid.Compose(r.Context(), postID, urls)
	switch {
	case errors.Is(err, grid.ErrNoImages):
		writeError(w, http.StatusNotFound, "post has no images")
		return
	case err != nil:
		logging.FromContext(r.Context(), s.logger).Warn("grid composition failed",
			zap.String("post_id", postID),
			zap.Error(err),
		)
		writeError(w, http.StatusBadGateway, "grid unavailable")
		return
	case res.Redirect != "":
		http.Redirect(w, r, imageRoute(p, postID, res.Redirect), http.StatusFound)
		return
	}

	etag := `"` + res.ETag + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", gridCacheControl)
	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Image)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Image)
}

// imageRoute points at the /images item holding target. Items are numbered
// over all media, so the position of the image in p.Media is used.
func imageRoute(p post.Post, postID, target string) string {
	for i, m := range p.Media {
		if m.Kind == post.KindImage && m.URL == target {
			return "/images/" + postID + "/" + strconv.Itoa(i+1)
		}
	}
	return target
}

// etagMatches implements the weak comparison If-None-Match asks for.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
