package instagram

import (
	"fmt"
	"net/url"
)

const (
	// MobileBaseURL is the base URL for the mobile API endpoints
	MobileBaseURL = "https://i.instagram.com"

	// WebBaseURL is the base URL for the web endpoints
	WebBaseURL = "https://www.instagram.com"

	// MobileUserAgent identifies requests as the Android app
	MobileUserAgent = "Instagram 275.0.0.27.98 Android (33/13; 280dpi; 720x1423; Xiaomi; Redmi 7; onclite; qcom; en_US; 458229237)"

	// WebUserAgent identifies requests as a desktop browser
	WebUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

	// ShareResolveUserAgent is used when following share redirects; the
	// plain curl identity avoids the login interstitial
	ShareResolveUserAgent = "curl/7.88.1"

	// DefaultAppID is the fallback web application id when none can be
	// scraped from the post page
	DefaultAppID = "936619743392459"

	// GraphQLDocID is the persisted query id for loading a single post
	GraphQLDocID = "8845758582119845"

	// GraphQLFriendlyName is the friendly name sent with the GraphQL query
	GraphQLFriendlyName = "PolarisPostActionLoadPostQueryQuery"
)

// Endpoints holds the base URLs for the mobile and web surfaces. Tests
// point these at a local server.
type Endpoints struct {
	MobileBase string
	WebBase    string
}

// DefaultEndpoints returns the production Instagram endpoints.
func DefaultEndpoints() *Endpoints {
	return &Endpoints{
		MobileBase: MobileBaseURL,
		WebBase:    WebBaseURL,
	}
}

// OEmbedURL constructs the mobile oEmbed lookup URL for a post URL.
func (e *Endpoints) OEmbedURL(postURL string) string {
	return fmt.Sprintf("%s/api/v1/oembed/?url=%s", e.MobileBase, url.QueryEscape(postURL))
}

// MediaInfoURL constructs the mobile media info URL for a media id.
func (e *Endpoints) MediaInfoURL(mediaID string) string {
	return fmt.Sprintf("%s/api/v1/media/%s/info/", e.MobileBase, mediaID)
}

// EmbedURL constructs the captioned embed page URL for a shortcode.
func (e *Endpoints) EmbedURL(shortcode string) string {
	return fmt.Sprintf("%s/p/%s/embed/captioned/", e.WebBase, shortcode)
}

// PostURL constructs the canonical post page URL for a shortcode.
func (e *Endpoints) PostURL(shortcode string) string {
	return fmt.Sprintf("%s/p/%s/", e.WebBase, shortcode)
}

// GraphQLURL returns the web GraphQL query endpoint.
func (e *Endpoints) GraphQLURL() string {
	return e.WebBase + "/graphql/query"
}

// MobileHeaders returns the header set for mobile API calls.
func MobileHeaders() map[string]string {
	return map[string]string{
		"User-Agent":          MobileUserAgent,
		"Accept-Language":     "en-US",
		"X-IG-App-ID":         DefaultAppID,
		"X-FB-HTTP-Engine":    "Liger",
		"X-FB-Client-IP":      "True",
		"X-FB-Server-Cluster": "True",
	}
}

// WebHeaders returns the header set for web page and GraphQL calls.
func WebHeaders() map[string]string {
	return map[string]string{
		"User-Agent":      WebUserAgent,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.9",
		"DNT":             "1",
		"Sec-GPC":         "1",
	}
}

// DownloadHeaders returns the header set for media binary downloads.
func DownloadHeaders() map[string]string {
	return map[string]string{
		"User-Agent": WebUserAgent,
		"Accept":     "*/*",
		"Referer":    "https://www.instagram.com/",
		"Origin":     "https://www.instagram.com",
	}
}
