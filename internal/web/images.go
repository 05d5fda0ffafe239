package web

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eugenenazirov/siteserver/internal/config"
)

const (
	defaultImageQuality = 75
	maxRemoteImageBytes = 10 << 20
	maxImageRedirects   = 5
	imageResponseCSP    = "script-src 'none'; frame-src 'none'; sandbox;"
)

// ImageHandler serves GET /_image?url=&w=&q= for local and allow-listed
// remote images. Bytes are passed through unchanged.
type ImageHandler struct {
	images     config.ImagesConfig
	root       string
	sourceMaps bool
	maxBytes   int64
	client     *http.Client
	logger     *zap.Logger
}

// ImageOption configures ImageHandler behaviour.
type ImageOption func(*ImageHandler)

// WithHTTPClient overrides the client used for remote images.
func WithHTTPClient(client *http.Client) ImageOption {
	return func(h *ImageHandler) {
		h.client = client
	}
}

// WithSourceMaps lets local *.map files through, matching the static handler.
func WithSourceMaps(enabled bool) ImageOption {
	return func(h *ImageHandler) {
		h.sourceMaps = enabled
	}
}

// NewImageHandler constructs an ImageHandler reading local images from root.
// Whatever client is configured, redirects are only followed to hosts the
// remote patterns allow.
func NewImageHandler(images config.ImagesConfig, root string, logger *zap.Logger, opts ...ImageOption) *ImageHandler {
	h := &ImageHandler{
		images:   images,
		root:     root,
		maxBytes: maxRemoteImageBytes,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(h)
	}

	client := *h.client
	client.CheckRedirect = h.checkRedirect
	h.client = &client
	return h
}

func (h *ImageHandler) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxImageRedirects {
		return fmt.Errorf("stopped after %d redirects", len(via))
	}
	if !h.allowed(req.URL) {
		return fmt.Errorf("redirect to host %q is not configured for remote images", req.URL.Hostname())
	}
	return nil
}

type imageRequest struct {
	src     string
	width   int
	quality int
}

func (h *ImageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := h.parse(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid image request", err.Error())
		return
	}

	if strings.HasPrefix(req.src, "/") && !strings.HasPrefix(req.src, "//") {
		h.serveLocal(w, r, req)
		return
	}
	h.serveRemote(w, r, req)
}

func (h *ImageHandler) parse(q url.Values) (imageRequest, error) {
	req := imageRequest{src: q.Get("url"), quality: defaultImageQuality}
	if req.src == "" {
		return imageRequest{}, errors.New(`"url" parameter is required`)
	}

	width, err := strconv.Atoi(q.Get("w"))
	if err != nil {
		return imageRequest{}, errors.New(`"w" parameter must be an integer`)
	}
	if !slices.Contains(h.images.AllowedWidths(), width) {
		return imageRequest{}, fmt.Errorf(`"w" parameter %d is not an allowed size`, width)
	}
	req.width = width

	if raw := q.Get("q"); raw != "" {
		quality, err := strconv.Atoi(raw)
		if err != nil || quality < 1 || quality > 100 {
			return imageRequest{}, errors.New(`"q" parameter must be an integer between 1 and 100`)
		}
		req.quality = quality
	}

	return req, nil
}

func (h *ImageHandler) serveLocal(w http.ResponseWriter, r *http.Request, req imageRequest) {
	clean := path.Clean(req.src)
	file := filepath.Join(h.root, filepath.FromSlash(clean))

	if !h.sourceMaps && strings.HasSuffix(clean, ".map") {
		writeError(w, http.StatusNotFound, "Image not found", clean)
		return
	}

	info, err := os.Stat(file)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "Image not found", clean)
		return
	}

	contentType, err := localContentType(file)
	if err != nil || !strings.HasPrefix(contentType, "image/") {
		writeError(w, http.StatusNotFound, "Image not found", clean)
		return
	}

	h.setCacheHeaders(w)
	w.Header().Set("Content-Type", contentType)
	http.ServeFile(w, r, file)
}

// localContentType prefers the extension and falls back to sniffing.
func localContentType(file string) (string, error) {
	if byExt := mime.TypeByExtension(filepath.Ext(file)); byExt != "" {
		return byExt, nil
	}

	f, err := os.Open(file)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	return http.DetectContentType(buf[:n]), nil
}

func (h *ImageHandler) serveRemote(w http.ResponseWriter, r *http.Request, req imageRequest) {
	target, err := url.Parse(req.src)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		writeError(w, http.StatusBadRequest, "Invalid image request", `"url" parameter is not a valid absolute URL`)
		return
	}
	if !h.allowed(target) {
		writeError(w, http.StatusBadRequest, "Invalid image request", fmt.Sprintf("host %q is not configured for remote images", target.Hostname()))
		return
	}

	upstreamReq, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid image request", err.Error())
		return
	}
	upstreamReq.Header.Set("Accept", strings.Join(append(slices.Clone(h.images.Formats), "image/*"), ","))

	resp, err := h.client.Do(upstreamReq)
	if err != nil {
		h.logger.Warn("remote image fetch failed", zap.String("url", target.String()), zap.Error(err))
		writeError(w, http.StatusBadGateway, "Upstream image error", "unable to fetch remote image")
		return
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	switch {
	case resp.StatusCode != http.StatusOK:
		writeError(w, http.StatusBadGateway, "Upstream image error", fmt.Sprintf("upstream responded with %d", resp.StatusCode))
		return
	case !strings.HasPrefix(contentType, "image/"):
		writeError(w, http.StatusBadGateway, "Upstream image error", "upstream response is not an image")
		return
	case resp.ContentLength > h.maxBytes:
		writeError(w, http.StatusBadGateway, "Upstream image error", "upstream image is too large")
		return
	}

	// Content-Length may be absent, so read one byte past the limit to detect
	// oversized bodies before any status is written.
	body, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBytes+1))
	if err != nil {
		h.logger.Warn("remote image read failed", zap.String("url", target.String()), zap.Error(err))
		writeError(w, http.StatusBadGateway, "Upstream image error", "unable to read remote image")
		return
	}
	if int64(len(body)) > h.maxBytes {
		writeError(w, http.StatusBadGateway, "Upstream image error", "upstream image is too large")
		return
	}

	h.setCacheHeaders(w)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *ImageHandler) allowed(u *url.URL) bool {
	for _, p := range h.images.RemotePatterns {
		if p.Matches(u) {
			return true
		}
	}
	return false
}

func (h *ImageHandler) setCacheHeaders(w http.ResponseWriter) {
	ttl := int64(h.images.MinimumCacheTTL / time.Second)
	w.Header().Set("Cache-Control", "public, max-age="+strconv.FormatInt(ttl, 10))
	w.Header().Set("Vary", "Accept")
	w.Header().Set("Content-Security-Policy", imageResponseCSP)
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
