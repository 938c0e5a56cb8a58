package ingest

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strings"

	"mindia/internal/apperror"
	"mindia/internal/auth"
	"mindia/internal/models"
)

// URLUploadRequest is one "fetch this URL and ingest it" request, the
// image_upload_url.rs counterpart of UploadRequest.
type URLUploadRequest struct {
	TenantID   string
	MediaType  models.MediaType
	SourceURL  string
	FolderID   *string
	StoreParam string
}

// IngestFromURL fetches SourceURL under a bounded timeout, SSRF-validates it
// first, and delegates to IngestBytes for the rest of §4.N. Grounded on
// image_upload_url.rs: same SSRF check, same 60s default timeout, same
// content-type-from-response-header and filename-from-path-segment rules.
func (c *Coordinator) IngestFromURL(ctx context.Context, ssrf *auth.SSRFValidator, req URLUploadRequest) (models.Media, error) {
	if ssrf != nil {
		if err := ssrf.Validate(ctx, req.SourceURL, auth.PolicyUpload); err != nil {
			return models.Media{}, apperror.InvalidInput("upload URL failed SSRF validation").WithDetail(err.Error())
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.URLUploadTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, req.SourceURL, nil)
	if err != nil {
		return models.Media{}, apperror.InvalidInput("invalid upload URL").WithDetail(err.Error())
	}

	client := &http.Client{Timeout: c.cfg.URLUploadTimeout}
	resp, err := client.Do(httpReq)
	if err != nil {
		return models.Media{}, apperror.InvalidInput("failed to fetch upload URL").WithDetail(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Media{}, apperror.InvalidInput("upload URL returned a non-200 response")
	}

	typeCfg, ok := c.cfg.Types[req.MediaType]
	if !ok {
		return models.Media{}, apperror.InvalidInput("unsupported media type: " + string(req.MediaType))
	}
	data, err := readAllLimited(resp.Body, typeCfg.MaxBytes)
	if err != nil {
		return models.Media{}, err
	}

	contentType := strings.TrimSpace(strings.SplitN(resp.Header.Get("Content-Type"), ";", 2)[0])
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	filename := filenameFromURL(req.SourceURL)

	return c.IngestBytes(ctx, UploadRequest{
		TenantID:         req.TenantID,
		MediaType:        req.MediaType,
		OriginalFilename: filename,
		ContentType:      contentType,
		Data:             data,
		FolderID:         req.FolderID,
		StoreParam:       req.StoreParam,
	})
}

// filenameFromURL derives a filename from a URL's last path segment,
// falling back to "image.jpg" when the path carries nothing usable — the
// same fallback image_upload_url.rs uses.
func filenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "image.jpg"
	}
	base := path.Base(u.Path)
	if base == "" || base == "." || base == "/" {
		return "image.jpg"
	}
	return base
}
