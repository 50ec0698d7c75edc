package extractor

import (
	"context"
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"igfetch/pkg/errors"
	"igfetch/pkg/instagram"
	"igfetch/pkg/logger"
	"igfetch/pkg/media"
	"igfetch/pkg/metrics"
	"igfetch/pkg/ratelimit"
)

// Extraction is the resolved media for a post before download.
type Extraction struct {
	Shortcode string
	Caption   string
	Refs      []media.Ref
}

// FastExtractor resolves post media through the public endpoints,
// without an authenticated session. Endpoints are tried in a fixed
// fallback order; any stage that yields media wins.
type FastExtractor struct {
	client  *instagram.Client
	limiter ratelimit.Limiter
	metrics *metrics.Collector
	logger  logger.Logger
}

// Options configures a FastExtractor.
type Options struct {
	// Limiter paces the endpoint calls. Nil disables pacing.
	Limiter ratelimit.Limiter
	// Metrics records which stage produced the result. Nil disables.
	Metrics *metrics.Collector
	// Logger for stage tracing.
	Logger logger.Logger
}

// New creates a fast extractor on top of client.
func New(client *instagram.Client, opts Options) *FastExtractor {
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	return &FastExtractor{
		client:  client,
		limiter: opts.Limiter,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
}

var (
	// The blob is a JSON string value, so the match must skip over
	// escaped quotes inside it.
	reContextJSON = regexp.MustCompile(`"contextJSON":\s*"((?:[^"\\]|\\.)*)"`)
	reAppID       = regexp.MustCompile(`"appId":"(\d+)"`)
	reLSDToken    = regexp.MustCompile(`"LSD",\[\],\{"token":"(.*?)"`)
	reLSDTokenAlt = regexp.MustCompile(`"token":"(.*?)","__bbox"`)
	reCSRFToken   = regexp.MustCompile(`"csrf_token":"(.*?)"`)
)

// Extract resolves a post shortcode into caption text and direct media
// URLs. canonicalURL is the normalized post URL used for the oEmbed
// lookup. When every endpoint comes up empty the extraction is
// exhausted.
func (f *FastExtractor) Extract(ctx context.Context, shortcode, canonicalURL string) (*Extraction, error) {
	if mediaID := f.lookupMediaID(ctx, canonicalURL); mediaID != "" {
		if caption, refs := f.fromMobileInfo(ctx, mediaID); len(refs) > 0 {
			f.recordStage("mobile_info")
			return &Extraction{Shortcode: shortcode, Caption: caption, Refs: refs}, nil
		}
	}

	if caption, refs := f.fromEmbedPage(ctx, shortcode); len(refs) > 0 {
		f.recordStage("embed")
		return &Extraction{Shortcode: shortcode, Caption: caption, Refs: refs}, nil
	}

	if caption, refs := f.fromGraphQL(ctx, shortcode); len(refs) > 0 {
		f.recordStage("graphql")
		return &Extraction{Shortcode: shortcode, Caption: caption, Refs: refs}, nil
	}

	return nil, errors.New(errors.ErrorTypeExtractionExhausted, "no fast endpoint produced media")
}

func (f *FastExtractor) recordStage(stage string) {
	if f.metrics != nil {
		f.metrics.RecordFallbackStage(stage)
	}
	f.logger.DebugWithFields("fast extraction stage succeeded", map[string]interface{}{
		"stage": stage,
	})
}

func (f *FastExtractor) pace() {
	if f.limiter != nil {
		f.limiter.Wait()
	}
}

// lookupMediaID resolves the numeric media id via the mobile oEmbed
// endpoint. The media_id field carries a "{pk}_{userid}" value; only
// the leading pk is wanted.
func (f *FastExtractor) lookupMediaID(ctx context.Context, canonicalURL string) string {
	f.pace()

	var resp instagram.OEmbedResponse
	err := f.client.GetJSON(ctx, f.client.Endpoints().OEmbedURL(canonicalURL), instagram.MobileHeaders(), &resp)
	if err != nil {
		f.logger.DebugWithFields("oembed lookup failed", map[string]interface{}{
			"error": err.Error(),
		})
		return ""
	}
	if resp.MediaID == "" {
		return ""
	}
	return strings.SplitN(resp.MediaID, "_", 2)[0]
}

// fromMobileInfo fetches the mobile media info payload for a media id.
func (f *FastExtractor) fromMobileInfo(ctx context.Context, mediaID string) (string, []media.Ref) {
	f.pace()

	var resp instagram.MediaInfoResponse
	err := f.client.GetJSON(ctx, f.client.Endpoints().MediaInfoURL(mediaID), instagram.MobileHeaders(), &resp)
	if err != nil {
		f.logger.DebugWithFields("mobile media info failed", map[string]interface{}{
			"media_id": mediaID,
			"error":    err.Error(),
		})
		return "", nil
	}
	if len(resp.Items) == 0 || resp.Items[0] == nil {
		return "", nil
	}

	return normalizeMobileItem(resp.Items[0])
}

// fromEmbedPage fetches the captioned embed page and parses the media
// node out of its context JSON blob.
func (f *FastExtractor) fromEmbedPage(ctx context.Context, shortcode string) (string, []media.Ref) {
	f.pace()

	_, html, err := f.client.GetPage(ctx, f.client.Endpoints().EmbedURL(shortcode), instagram.WebHeaders())
	if err != nil {
		f.logger.DebugWithFields("embed page fetch failed", map[string]interface{}{
			"shortcode": shortcode,
			"error":     err.Error(),
		})
		return "", nil
	}

	container := extractContextJSON(html)
	if container == nil {
		return "", nil
	}
	return normalizeGraphContainer(container)
}

// fromGraphQL scrapes the post page for request tokens and posts the
// persisted GraphQL query.
func (f *FastExtractor) fromGraphQL(ctx context.Context, shortcode string) (string, []media.Ref) {
	f.pace()

	_, html, err := f.client.GetPage(ctx, f.client.Endpoints().PostURL(shortcode), instagram.WebHeaders())
	if err != nil {
		f.logger.DebugWithFields("post page fetch failed", map[string]interface{}{
			"shortcode": shortcode,
			"error":     err.Error(),
		})
		return "", nil
	}

	appID := firstMatch(html, reAppID)
	if appID == "" {
		appID = instagram.DefaultAppID
	}

	headers := instagram.WebHeaders()
	headers["X-FB-Friendly-Name"] = instagram.GraphQLFriendlyName
	headers["X-IG-App-ID"] = appID
	if lsd := firstMatch(html, reLSDToken, reLSDTokenAlt); lsd != "" {
		headers["X-FB-LSD"] = lsd
	}
	if csrf := firstMatch(html, reCSRFToken); csrf != "" {
		headers["X-CSRFToken"] = csrf
	}

	variables, err := json.Marshal(map[string]interface{}{
		"shortcode":                shortcode,
		"fetch_tagged_user_count":  nil,
		"hoisted_comment_id":       nil,
		"hoisted_reply_id":         nil,
	})
	if err != nil {
		return "", nil
	}

	form := url.Values{}
	form.Set("fb_api_caller_class", "RelayModern")
	form.Set("fb_api_req_friendly_name", instagram.GraphQLFriendlyName)
	form.Set("variables", string(variables))
	form.Set("server_timestamps", "true")
	form.Set("doc_id", instagram.GraphQLDocID)

	f.pace()

	var resp instagram.GraphQLResponse
	err = f.client.PostForm(ctx, f.client.Endpoints().GraphQLURL(), headers, form, &resp)
	if err != nil {
		f.logger.DebugWithFields("graphql query failed", map[string]interface{}{
			"shortcode": shortcode,
			"error":     err.Error(),
		})
		return "", nil
	}
	if resp.Data == nil {
		return "", nil
	}
	return normalizeGraphContainer(resp.Data)
}

// extractContextJSON pulls the escaped context JSON blob out of embed
// page HTML and decodes it. The blob is a JSON string value, so
// decoding it as one undoes the escaping.
func extractContextJSON(html string) *instagram.GraphContainer {
	m := reContextJSON.FindStringSubmatch(html)
	if m == nil {
		return nil
	}

	var decoded string
	if err := json.Unmarshal([]byte(`"`+m[1]+`"`), &decoded); err != nil {
		return nil
	}

	var container instagram.GraphContainer
	if err := json.Unmarshal([]byte(decoded), &container); err != nil {
		return nil
	}
	return &container
}

func firstMatch(html string, patterns ...*regexp.Regexp) string {
	for _, pattern := range patterns {
		if m := pattern.FindStringSubmatch(html); m != nil {
			return m[1]
		}
	}
	return ""
}
