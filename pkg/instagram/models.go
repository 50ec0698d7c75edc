package instagram

// OEmbedResponse is the mobile oEmbed lookup payload. MediaID carries
// a "pk_userid" style value; callers keep only the part before the
// first underscore.
type OEmbedResponse struct {
	MediaID string `json:"media_id"`
	Title   string `json:"title"`
}

// MediaInfoResponse is the mobile media info payload.
type MediaInfoResponse struct {
	Items []*MediaItem `json:"items"`
}

// MediaItem is a single media node from the mobile API. A carousel
// post carries its children in CarouselMedia; a single post carries
// its own versions directly.
type MediaItem struct {
	Caption        *MobileCaption  `json:"caption"`
	CarouselMedia  []*MediaItem    `json:"carousel_media"`
	VideoVersions  []VideoVersion  `json:"video_versions"`
	ImageVersions2 *ImageVersions  `json:"image_versions2"`
	VideoDuration  *float64        `json:"video_duration"`
}

// MobileCaption is the caption object on a mobile media item.
type MobileCaption struct {
	Text string `json:"text"`
}

// VideoVersion is one rendition of a video.
type VideoVersion struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// ImageVersions holds the image renditions, best first.
type ImageVersions struct {
	Candidates []ImageCandidate `json:"candidates"`
}

// ImageCandidate is one rendition of an image.
type ImageCandidate struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// GraphContainer is the envelope around a shortcode media node. The
// embed context payload and the GraphQL response nest the node under
// different keys, so all known locations are tried.
type GraphContainer struct {
	ShortcodeMedia    *ShortcodeMedia `json:"shortcode_media"`
	XDTShortcodeMedia *ShortcodeMedia `json:"xdt_shortcode_media"`
	Graphql           *struct {
		ShortcodeMedia *ShortcodeMedia `json:"shortcode_media"`
	} `json:"graphql"`
	GqlData *struct {
		ShortcodeMedia    *ShortcodeMedia `json:"shortcode_media"`
		XDTShortcodeMedia *ShortcodeMedia `json:"xdt_shortcode_media"`
	} `json:"gql_data"`
}

// Media returns the first shortcode media node found in the container.
func (c *GraphContainer) Media() *ShortcodeMedia {
	if c == nil {
		return nil
	}
	switch {
	case c.ShortcodeMedia != nil:
		return c.ShortcodeMedia
	case c.XDTShortcodeMedia != nil:
		return c.XDTShortcodeMedia
	case c.Graphql != nil && c.Graphql.ShortcodeMedia != nil:
		return c.Graphql.ShortcodeMedia
	case c.GqlData != nil && c.GqlData.ShortcodeMedia != nil:
		return c.GqlData.ShortcodeMedia
	case c.GqlData != nil && c.GqlData.XDTShortcodeMedia != nil:
		return c.GqlData.XDTShortcodeMedia
	}
	return nil
}

// GraphQLResponse is the web GraphQL query envelope.
type GraphQLResponse struct {
	Data *GraphContainer `json:"data"`
}

// ShortcodeMedia is a media node from the embed or GraphQL surfaces.
type ShortcodeMedia struct {
	Shortcode             string        `json:"shortcode"`
	IsVideo               bool          `json:"is_video"`
	VideoURL              string        `json:"video_url"`
	DisplayURL            string        `json:"display_url"`
	VideoDuration         *float64      `json:"video_duration"`
	EdgeSidecarToChildren *SidecarEdges `json:"edge_sidecar_to_children"`
	EdgeMediaToCaption    *CaptionEdges `json:"edge_media_to_caption"`
}

// CaptionText returns the first caption edge text, or empty.
func (m *ShortcodeMedia) CaptionText() string {
	if m == nil || m.EdgeMediaToCaption == nil || len(m.EdgeMediaToCaption.Edges) == 0 {
		return ""
	}
	return m.EdgeMediaToCaption.Edges[0].Node.Text
}

// SidecarEdges holds the children of a carousel post.
type SidecarEdges struct {
	Edges []SidecarEdge `json:"edges"`
}

// SidecarEdge wraps one carousel child.
type SidecarEdge struct {
	Node ShortcodeMedia `json:"node"`
}

// CaptionEdges holds the caption edges of a post.
type CaptionEdges struct {
	Edges []CaptionEdge `json:"edges"`
}

// CaptionEdge wraps one caption node.
type CaptionEdge struct {
	Node CaptionNode `json:"node"`
}

// CaptionNode is the caption text.
type CaptionNode struct {
	Text string `json:"text"`
}
