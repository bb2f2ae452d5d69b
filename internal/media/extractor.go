package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "golang.org/x/image/webp"
)

const (
	// MaxAttachments matches the Bluesky image embed limit.
	MaxAttachments = 4

	// MaxBytes caps a single image download.
	MaxBytes = 10 << 20

	fetchTimeout = 30 * time.Second
)

var (
	imageURLPattern = regexp.MustCompile(`https?://\S+\.(?i:jpg|jpeg|png|gif|webp)`)
	trailingPunct   = regexp.MustCompile(`[.,;:!?)\]]+$`)
	spaceRuns       = regexp.MustCompile(` +`)
	newlineRuns     = regexp.MustCompile(`\n{3,}`)
)

var supportedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// Attachment is an image fetched from a note, ready to upload.
type Attachment struct {
	URL         string
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// CandidateURLs returns image URLs found in note content, in order of
// appearance, with sentence punctuation stripped from the tail of each.
func CandidateURLs(content string) []string {
	matches := imageURLPattern.FindAllString(content, -1)

	var urls []string
	for _, m := range matches {
		urls = append(urls, trailingPunct.ReplaceAllString(m, ""))
	}
	return urls
}

// StripURLs removes the given URLs from content and tidies the whitespace
// left behind. Callers pass only URLs whose upload succeeded, so a failed
// attachment keeps its link in the text.
func StripURLs(content string, urls []string) string {
	for _, u := range urls {
		re := regexp.MustCompile(regexp.QuoteMeta(u) + `[.,;:!?)\]]*`)
		content = re.ReplaceAllString(content, "")
	}
	content = spaceRuns.ReplaceAllString(content, " ")
	content = newlineRuns.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}

// Extractor downloads and validates note images.
type Extractor struct {
	client   *http.Client
	maxBytes int64
	maxCount int
	log      zerolog.Logger
}

// NewExtractor creates an Extractor with the standard limits.
func NewExtractor(log zerolog.Logger) *Extractor {
	return &Extractor{
		client:   &http.Client{Timeout: fetchTimeout},
		maxBytes: MaxBytes,
		maxCount: MaxAttachments,
		log:      log,
	}
}

// Extract fetches the first MaxAttachments candidate URLs sequentially and
// returns the ones that downloaded and validated cleanly. Candidates past
// the cap are not fetched at all, and a failed candidate is skipped without
// affecting the rest.
func (e *Extractor) Extract(ctx context.Context, urls []string) []Attachment {
	if len(urls) > e.maxCount {
		urls = urls[:e.maxCount]
	}

	var attachments []Attachment
	for _, u := range urls {
		att, err := e.fetch(ctx, u)
		if err != nil {
			e.log.Warn().Err(err).Str("url", u).Msg("skipping image")
			continue
		}
		e.log.Info().
			Str("url", u).
			Str("content_type", att.ContentType).
			Int("bytes", len(att.Data)).
			Msg("downloaded image")
		attachments = append(attachments, att)
	}
	return attachments
}

func (e *Extractor) fetch(ctx context.Context, url string) (Attachment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Attachment{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return Attachment{}, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Attachment{}, fmt.Errorf("fetch image: status %s", resp.Status)
	}

	declared := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(declared, "image/") {
		return Attachment{}, fmt.Errorf("not an image: content-type %q", declared)
	}
	if resp.ContentLength > e.maxBytes {
		return Attachment{}, fmt.Errorf("image too large: %d bytes (max %d)", resp.ContentLength, e.maxBytes)
	}

	data, err := readAtMost(resp.Body, e.maxBytes)
	if err != nil {
		return Attachment{}, err
	}

	// Sniff the real type rather than trusting the header alone.
	contentType := http.DetectContentType(data)
	if !supportedTypes[contentType] {
		return Attachment{}, fmt.Errorf("unsupported image type %q", contentType)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Attachment{}, fmt.Errorf("decode image header: %w", err)
	}

	return Attachment{
		URL:         url,
		Data:        data,
		ContentType: contentType,
		Width:       cfg.Width,
		Height:      cfg.Height,
	}, nil
}

// readAtMost reads the whole body, failing once it exceeds limit. The extra
// byte detects oversize responses without buffering past the cap.
func readAtMost(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("image too large: exceeds %d bytes", limit)
	}
	return data, nil
}
