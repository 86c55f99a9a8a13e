package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"

	"github.com/kirillkom/policy-query-engine/internal/core/domain"
)

const defaultMaxBytes int64 = 50 << 20

type Options struct {
	MaxBytes  int64
	LocalRoot string
	Timeout   time.Duration
	UserAgent string
}

// Fetcher loads documents from http(s) URLs or from files under LocalRoot.
type Fetcher struct {
	client    *resty.Client
	maxBytes  int64
	localRoot string
}

func New(opts Options) *Fetcher {
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "policy-query-engine/1.0"
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))

	return &Fetcher{
		client:    client,
		maxBytes:  maxBytes,
		localRoot: strings.TrimSpace(opts.LocalRoot),
	}
}

func (f *Fetcher) Fetch(ctx context.Context, ref string) (*domain.FetchedDocument, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "fetch document", errors.New("document reference is empty"))
	}

	lower := strings.ToLower(ref)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return f.fetchRemote(ctx, ref)
	case strings.HasPrefix(lower, "file://"):
		parsed, err := url.Parse(ref)
		if err != nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, "fetch document", err)
		}
		return f.fetchLocal(ref, parsed.Path)
	case strings.Contains(ref, "://"):
		return nil, domain.WrapError(domain.ErrInvalidInput, "fetch document", fmt.Errorf("unsupported scheme in %q", ref))
	default:
		return f.fetchLocal(ref, ref)
	}
}

func (f *Fetcher) fetchRemote(ctx context.Context, ref string) (*domain.FetchedDocument, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(ref)
	if err != nil {
		return nil, domain.WrapError(domain.ErrFetchFailed, "download document", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() >= 300 {
		return nil, domain.WrapError(domain.ErrFetchFailed, "download document", fmt.Errorf("status %s", resp.Status()))
	}
	if length := resp.RawResponse.ContentLength; length > f.maxBytes {
		return nil, f.tooLarge(length)
	}

	data, err := f.readCapped(body)
	if err != nil {
		return nil, err
	}

	name := filenameFromURL(ref)
	return &domain.FetchedDocument{
		Source:      ref,
		Filename:    name,
		ContentType: resolveContentType(resp.Header().Get("Content-Type"), name, data),
		Data:        data,
	}, nil
}

func (f *Fetcher) fetchLocal(ref, target string) (*domain.FetchedDocument, error) {
	if f.localRoot == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "read local document", errors.New("local document references are disabled"))
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(f.localRoot, target)
	}

	inside, err := pathInside(f.localRoot, target)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "read local document", err)
	}
	if !inside {
		return nil, domain.WrapError(domain.ErrInvalidInput, "read local document", fmt.Errorf("%s is outside the document root", target))
	}

	info, err := os.Stat(target)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "read local document", err)
	}
	if info.IsDir() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "read local document", fmt.Errorf("%s is a directory", target))
	}
	if info.Size() > f.maxBytes {
		return nil, f.tooLarge(info.Size())
	}

	file, err := os.Open(target)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "read local document", err)
	}
	defer file.Close()

	data, err := f.readCapped(file)
	if err != nil {
		return nil, err
	}

	name := filepath.Base(target)
	return &domain.FetchedDocument{
		Source:      ref,
		Filename:    name,
		ContentType: resolveContentType("", name, data),
		Data:        data,
	}, nil
}

func (f *Fetcher) readCapped(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, domain.WrapError(domain.ErrFetchFailed, "read document body", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, f.tooLarge(int64(len(data)))
	}
	return data, nil
}

func (f *Fetcher) tooLarge(size int64) error {
	return domain.WrapError(
		domain.ErrDocumentTooLarge,
		"fetch document",
		fmt.Errorf("%d bytes exceeds limit of %d bytes", size, f.maxBytes),
	)
}

var extensionTypes = map[string]string{
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".htm":  "text/html",
	".html": "text/html",
}

// resolveContentType prefers the declared type, then the file extension,
// then content sniffing.
func resolveContentType(declared, name string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && !isGenericContentType(declared) {
		return declared
	}
	ext := strings.ToLower(path.Ext(name))
	if ct, ok := extensionTypes[ext]; ok {
		return ct
	}
	if ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
	}
	return mimetype.Detect(data).String()
}

func isGenericContentType(ct string) bool {
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return true
	}
	return mediaType == "application/octet-stream" || mediaType == "binary/octet-stream"
}

func pathInside(root, target string) (bool, error) {
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return false, fmt.Errorf("resolve root %q: %w", root, err)
	}
	resolvedTarget, err := filepath.EvalSymlinks(target)
	if err != nil {
		if os.IsNotExist(err) {
			return false, fmt.Errorf("document does not exist: %s", target)
		}
		return false, fmt.Errorf("resolve target %q: %w", target, err)
	}
	rel, err := filepath.Rel(resolvedRoot, resolvedTarget)
	if err != nil {
		return false, fmt.Errorf("compute relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return false, nil
	}
	return true, nil
}

func filenameFromURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	name := path.Base(parsed.Path)
	if name == "." || name == "/" {
		return ""
	}
	return name
}
