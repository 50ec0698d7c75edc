package urlrouter

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"igfetch/pkg/errors"
	"igfetch/pkg/instagram"
)

// Route is the closed set of supported Instagram URL routes.
type Route string

const (
	RoutePost  Route = "post"
	RouteShare Route = "share"
	RouteStory Route = "story"
)

// ParsedURL is the result of normalizing and classifying a URL.
type ParsedURL struct {
	CanonicalURL string
	Route        Route
	Shortcode    string
	ShareID      string
	Username     string
	StoryID      string
}

var (
	// Alias hosts served by third-party embed fixers map onto the
	// canonical host.
	aliasHosts = map[string]bool{
		"ddinstagram.com":   true,
		"d.ddinstagram.com": true,
		"g.ddinstagram.com": true,
	}

	reStory = regexp.MustCompile(`^/stories/(?P<username>[^/]+)/(?P<story_id>\d+)`)
	reShare = regexp.MustCompile(`^/share(?:/(?:p|reel))?/(?P<share_id>[^/?#]+)`)
	rePost  = regexp.MustCompile(`^/(?:(?:p|reel|reels|tv)/(?P<shortcode>[^/?#]+)|[^/]+/(?:p|reel)/(?P<user_shortcode>[^/?#]+))`)

	reShareBody = regexp.MustCompile(`https://www\.instagram\.com/(?:p|reel|reels|tv)/([^/?#"'<>]+)/?`)
)

// Normalize cleans a raw URL into canonical form: https scheme, the
// www.instagram.com host (folding alias hosts), and a trailing slash
// on non-root paths. Non-Instagram hosts are rejected.
func Normalize(raw string) (string, error) {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return "", errors.New(errors.ErrorTypeUnsupportedURL, "empty URL")
	}
	if !strings.HasPrefix(cleaned, "http://") && !strings.HasPrefix(cleaned, "https://") {
		cleaned = "https://" + cleaned
	}

	parsed, err := url.Parse(cleaned)
	if err != nil {
		return "", errors.Wrap(errors.ErrorTypeUnsupportedURL, "invalid URL", err)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", errors.New(errors.ErrorTypeUnsupportedURL, "invalid URL host")
	}
	if aliasHosts[host] {
		host = "www.instagram.com"
	}
	if host != "instagram.com" && host != "www.instagram.com" {
		return "", errors.New(errors.ErrorTypeUnsupportedURL, fmt.Sprintf("unsupported host %q", host))
	}

	path := parsed.Path
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if path != "/" && !strings.HasSuffix(path, "/") {
		path = path + "/"
	}

	return "https://www.instagram.com" + path, nil
}

// Classify normalizes raw and determines its route. Unclassifiable
// paths fail with an unsupported_url error.
func Classify(raw string) (*ParsedURL, error) {
	canonical, err := Normalize(raw)
	if err != nil {
		return nil, err
	}

	parsed, err := url.Parse(canonical)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeUnsupportedURL, "invalid URL", err)
	}
	path := strings.TrimRight(parsed.Path, "/")

	if m := reStory.FindStringSubmatch(path); m != nil {
		return &ParsedURL{
			CanonicalURL: canonical,
			Route:        RouteStory,
			Username:     m[reStory.SubexpIndex("username")],
			StoryID:      m[reStory.SubexpIndex("story_id")],
		}, nil
	}

	if m := reShare.FindStringSubmatch(path); m != nil {
		return &ParsedURL{
			CanonicalURL: canonical,
			Route:        RouteShare,
			ShareID:      m[reShare.SubexpIndex("share_id")],
		}, nil
	}

	if m := rePost.FindStringSubmatch(path); m != nil {
		shortcode := m[rePost.SubexpIndex("shortcode")]
		if shortcode == "" {
			shortcode = m[rePost.SubexpIndex("user_shortcode")]
		}
		return &ParsedURL{
			CanonicalURL: canonical,
			Route:        RoutePost,
			Shortcode:    shortcode,
		}, nil
	}

	return nil, errors.New(errors.ErrorTypeUnsupportedURL, "unsupported Instagram URL route")
}

// IsStoryURL reports whether raw points at a story. Unparseable URLs
// are simply not stories.
func IsStoryURL(raw string) bool {
	parsed, err := Classify(raw)
	return err == nil && parsed.Route == RouteStory
}

// Resolver resolves share URLs to canonical post URLs.
type Resolver struct {
	client *instagram.Client
}

// NewResolver creates a share URL resolver on top of client.
func NewResolver(client *instagram.Client) *Resolver {
	return &Resolver{client: client}
}

// ResolveShare follows a share URL's redirects to find the canonical
// post URL. If the final location is not itself a post URL, the body
// is scanned for one. Failing both, the URL is unresolvable.
func (r *Resolver) ResolveShare(ctx context.Context, shareURL string) (string, error) {
	headers := map[string]string{"User-Agent": instagram.ShareResolveUserAgent}
	finalURL, body, err := r.client.GetPage(ctx, r.requestURL(shareURL), headers)
	if err != nil {
		return "", errors.Wrap(errors.ErrorTypeShareUnresolved, "fetching share URL", err)
	}

	if candidate, err := Normalize(finalURL); err == nil {
		if parsed, err := Classify(candidate); err == nil && parsed.Route == RoutePost {
			return candidate, nil
		}
	}

	if m := reShareBody.FindStringSubmatch(body); m != nil {
		return fmt.Sprintf("https://www.instagram.com/p/%s/", m[1]), nil
	}

	return "", errors.New(errors.ErrorTypeShareUnresolved, "share URL did not resolve to a post")
}

// requestURL rebases the share URL onto the client's configured web
// base, so endpoint overrides apply to share resolution too.
func (r *Resolver) requestURL(shareURL string) string {
	u, err := url.Parse(shareURL)
	if err != nil {
		return shareURL
	}
	rebased := r.client.Endpoints().WebBase + u.Path
	if u.RawQuery != "" {
		rebased += "?" + u.RawQuery
	}
	return rebased
}
