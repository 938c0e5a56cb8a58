package objectstore

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"mindia/internal/apperror"
)

const defaultRequestTimeout = 60 * time.Second

// S3Config configures the S3-compatible backend. Compatible with AWS S3 and
// any S3-compatible endpoint (MinIO, R2, etc.) via path-style addressing.
type S3Config struct {
	Bucket         string
	Region         string
	Endpoint       string // host[:port], scheme inferred from UseSSL
	AccessKey      string
	SecretKey      string
	UseSSL         bool
	Prefix         string
	PublicEndpoint string // base URL used to build public-facing Object.URL
	RequestTimeout time.Duration
}

// s3Store is a hand-rolled SigV4 client over net/http. No pack repository
// imports a real S3 SDK client, so this generalizes the teacher's signer
// into a standalone backend implementing the full Store contract, including
// presigned URLs the teacher never needed.
type s3Store struct {
	cfg        S3Config
	endpoint   *url.URL
	httpClient *http.Client
}

// NewS3Store builds a Store backed by an S3-compatible endpoint.
func NewS3Store(cfg S3Config) (Store, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if bucket == "" || endpoint == "" {
		return nil, apperror.InvalidInput("s3 bucket and endpoint are required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	host := endpoint
	if strings.Contains(host, "://") {
		if parsed, err := url.Parse(host); err == nil {
			host = parsed.Host
		}
	}
	baseURL := &url.URL{Scheme: scheme, Host: host}
	if baseURL.Host == "" {
		return nil, apperror.InvalidInput("s3 endpoint host could not be parsed")
	}
	cfg.Bucket = bucket
	return &s3Store{
		cfg:        cfg,
		endpoint:   baseURL,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
	}, nil
}

func (s *s3Store) Upload(ctx context.Context, key, contentType string, body []byte) (Object, error) {
	return s.uploadReader(ctx, key, contentType, bytes.NewReader(body), int64(len(body)))
}

func (s *s3Store) UploadStream(ctx context.Context, key, contentType string, body io.Reader, size int64) (Object, error) {
	return s.uploadReader(ctx, key, contentType, body, size)
}

func (s *s3Store) uploadReader(ctx context.Context, key, contentType string, body io.Reader, size int64) (Object, error) {
	finalKey := s.applyPrefix(key)
	target := s.objectURL(finalKey)

	// SigV4 requires the payload hash; for streamed bodies of unknown
	// content we buffer once here rather than support chunked signing,
	// matching the teacher's buffered-body signer.
	data, err := io.ReadAll(body)
	if err != nil {
		return Object{}, apperror.Storage(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target.String(), bytes.NewReader(data))
	if err != nil {
		return Object{}, apperror.Storage(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.ContentLength = int64(len(data))
	hash := hashSHA256Hex(data)
	s.signRequest(req, hash)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Object{}, apperror.UpstreamTimeout(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Object{}, apperror.Storage(fmt.Errorf("upload %s: unexpected status %d", finalKey, resp.StatusCode))
	}

	return Object{
		Key:         finalKey,
		Bucket:      s.cfg.Bucket,
		URL:         s.publicURL(finalKey),
		ContentType: contentType,
		Size:        int64(len(data)),
	}, nil
}

func (s *s3Store) Download(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.DownloadStream(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, apperror.Storage(err)
	}
	return data, nil
}

func (s *s3Store) DownloadStream(ctx context.Context, key string) (io.ReadCloser, error) {
	finalKey := s.applyPrefix(key)
	target := s.objectURL(finalKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, apperror.Storage(err)
	}
	s.signRequest(req, emptyPayloadHash)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, apperror.UpstreamTimeout(err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, apperror.NotFound(fmt.Sprintf("object %s not found", finalKey))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, apperror.Storage(fmt.Errorf("download %s: unexpected status %d", finalKey, resp.StatusCode))
	}
	return resp.Body, nil
}

func (s *s3Store) Delete(ctx context.Context, key string) error {
	finalKey := s.applyPrefix(key)
	target := s.objectURL(finalKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target.String(), nil)
	if err != nil {
		return apperror.Storage(err)
	}
	s.signRequest(req, emptyPayloadHash)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return apperror.UpstreamTimeout(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 || resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return apperror.Storage(fmt.Errorf("delete %s: unexpected status %d", finalKey, resp.StatusCode))
}

func (s *s3Store) Exists(ctx context.Context, key string) (bool, error) {
	finalKey := s.applyPrefix(key)
	target := s.objectURL(finalKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target.String(), nil)
	if err != nil {
		return false, apperror.Storage(err)
	}
	s.signRequest(req, emptyPayloadHash)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, apperror.UpstreamTimeout(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

func (s *s3Store) Copy(ctx context.Context, srcKey, dstKey string) error {
	data, err := s.Download(ctx, srcKey)
	if err != nil {
		return err
	}
	_, err = s.Upload(ctx, dstKey, "", data)
	return err
}

// PresignPut builds a SigV4 query-string-presigned PUT URL.
func (s *s3Store) PresignPut(_ context.Context, key, contentType string, expiry time.Duration) (string, error) {
	return s.presign(http.MethodPut, key, expiry)
}

// PresignGet builds a SigV4 query-string-presigned GET URL.
func (s *s3Store) PresignGet(_ context.Context, key string, expiry time.Duration) (string, error) {
	return s.presign(http.MethodGet, key, expiry)
}

func (s *s3Store) presign(method, key string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	finalKey := s.applyPrefix(key)
	target := s.objectURL(finalKey)

	accessKey := strings.TrimSpace(s.cfg.AccessKey)
	secretKey := strings.TrimSpace(s.cfg.SecretKey)
	if accessKey == "" || secretKey == "" {
		return "", apperror.Internal(fmt.Errorf("presigning requires access and secret keys"))
	}
	region := s.region()
	now := time.Now().UTC()
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")
	scope := strings.Join([]string{dateStamp, region, "s3", "aws4_request"}, "/")

	query := target.Query()
	query.Set("X-Amz-Algorithm", "AWS4-HMAC-SHA256")
	query.Set("X-Amz-Credential", accessKey+"/"+scope)
	query.Set("X-Amz-Date", amzDate)
	query.Set("X-Amz-Expires", strconv.Itoa(int(expiry.Seconds())))
	query.Set("X-Amz-SignedHeaders", "host")
	target.RawQuery = query.Encode()

	canonicalRequest := strings.Join([]string{
		method,
		canonicalURI(target),
		canonicalQuery(target),
		"host:" + target.Host + "\n",
		"host",
		"UNSIGNED-PAYLOAD",
	}, "\n")
	hash := sha256.Sum256([]byte(canonicalRequest))
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		scope,
		hex.EncodeToString(hash[:]),
	}, "\n")
	signingKey := deriveSigningKey(secretKey, dateStamp, region)
	signature := hmacSHA256Hex(signingKey, stringToSign)

	query.Set("X-Amz-Signature", signature)
	target.RawQuery = query.Encode()
	return target.String(), nil
}

func (s *s3Store) region() string {
	region := strings.TrimSpace(s.cfg.Region)
	if region == "" {
		return "us-east-1"
	}
	return region
}

func (s *s3Store) applyPrefix(key string) string {
	trimmed := strings.TrimLeft(strings.TrimSpace(key), "/")
	prefix := strings.Trim(strings.TrimSpace(s.cfg.Prefix), "/")
	if prefix == "" {
		return trimmed
	}
	if trimmed == "" {
		return prefix
	}
	if trimmed == prefix || strings.HasPrefix(trimmed, prefix+"/") {
		return trimmed
	}
	return prefix + "/" + trimmed
}

func (s *s3Store) objectURL(finalKey string) *url.URL {
	basePath := strings.TrimRight(s.endpoint.Path, "/")
	path := "/" + strings.TrimLeft(s.cfg.Bucket, "/")
	trimmedKey := strings.TrimLeft(finalKey, "/")
	if trimmedKey != "" {
		path += "/" + trimmedKey
	}
	if basePath != "" {
		path = basePath + path
	}
	u := *s.endpoint
	u.Path = path
	return &u
}

func (s *s3Store) publicURL(key string) string {
	base := strings.TrimSpace(s.cfg.PublicEndpoint)
	if base == "" {
		return ""
	}
	trimmedBase := strings.TrimRight(base, "/")
	trimmedKey := strings.TrimLeft(key, "/")
	if trimmedKey == "" {
		return trimmedBase
	}
	return trimmedBase + "/" + trimmedKey
}

func (s *s3Store) signRequest(req *http.Request, payloadHash string) {
	req.Host = req.URL.Host
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("x-amz-content-sha256", payloadHash)
	accessKey := strings.TrimSpace(s.cfg.AccessKey)
	secretKey := strings.TrimSpace(s.cfg.SecretKey)
	if accessKey == "" || secretKey == "" {
		return
	}
	region := s.region()
	now := time.Now().UTC()
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")
	req.Header.Set("x-amz-date", amzDate)
	canonicalHeaders, signedHeaders := canonicalizeHeaders(req)
	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalURI(req.URL),
		canonicalQuery(req.URL),
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")
	hash := sha256.Sum256([]byte(canonicalRequest))
	scope := strings.Join([]string{dateStamp, region, "s3", "aws4_request"}, "/")
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		scope,
		hex.EncodeToString(hash[:]),
	}, "\n")
	signingKey := deriveSigningKey(secretKey, dateStamp, region)
	signature := hmacSHA256Hex(signingKey, stringToSign)
	authorization := fmt.Sprintf(
		"AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		accessKey, scope, signedHeaders, signature,
	)
	req.Header.Set("Authorization", authorization)
}

func canonicalizeHeaders(req *http.Request) (string, string) {
	headerMap := make(map[string][]string)
	for key, values := range req.Header {
		lower := strings.ToLower(key)
		if lower == "authorization" {
			continue
		}
		cleaned := make([]string, 0, len(values))
		for _, v := range values {
			cleaned = append(cleaned, strings.TrimSpace(v))
		}
		headerMap[lower] = cleaned
	}
	if _, ok := headerMap["host"]; !ok && req.Host != "" {
		headerMap["host"] = []string{req.Host}
	}
	keys := make([]string, 0, len(headerMap))
	for key := range headerMap {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var builder strings.Builder
	var signed []string
	for _, key := range keys {
		values := headerMap[key]
		builder.WriteString(key)
		builder.WriteByte(':')
		builder.WriteString(strings.Join(values, ","))
		builder.WriteByte('\n')
		signed = append(signed, key)
	}
	return builder.String(), strings.Join(signed, ";")
}

func canonicalURI(u *url.URL) string {
	if u == nil {
		return "/"
	}
	path := u.EscapedPath()
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}

func canonicalQuery(u *url.URL) string {
	if u == nil {
		return ""
	}
	values, err := url.ParseQuery(u.RawQuery)
	if err != nil || len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var builder strings.Builder
	for idx, key := range keys {
		if idx > 0 {
			builder.WriteByte('&')
		}
		sort.Strings(values[key])
		for vIdx, value := range values[key] {
			if vIdx > 0 {
				builder.WriteByte('&')
			}
			builder.WriteString(url.QueryEscape(key))
			builder.WriteByte('=')
			builder.WriteString(url.QueryEscape(value))
		}
	}
	return builder.String()
}

func deriveSigningKey(secret, dateStamp, region string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), []byte(dateStamp))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte("s3"))
	return hmacSHA256(kService, []byte("aws4_request"))
}

func hmacSHA256(key []byte, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func hmacSHA256Hex(key []byte, data string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

var emptyPayloadHash = hashSHA256Hex(nil)

func hashSHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
