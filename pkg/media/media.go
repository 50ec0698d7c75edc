// Package media holds the value types shared between the extraction
// stages, the downloader and the orchestrator. Refs and Items are
// created per request and discarded once the caller consumes the
// result; downloaded files are owned by the caller.
package media

// Type identifies the kind of a media object
type Type string

const (
	TypeVideo Type = "video"
	TypePhoto Type = "photo"
)

// Ref is a resolved direct media URL before local download. Every
// extraction stage normalizes its payload into this shape.
type Ref struct {
	URL      string
	Type     Type
	Duration *float64
}

// Item is one locally downloaded media file
type Item struct {
	Path     string
	Type     Type
	Caption  string
	Duration *float64
}

// Result is the uniform output of an extraction operation, regardless
// of which path produced it.
type Result struct {
	Shortcode string
	Caption   string
	Items     []Item
}

// PrimaryType returns the type of the first item, or an empty type for
// an empty result.
func (r *Result) PrimaryType() Type {
	if r == nil || len(r.Items) == 0 {
		return ""
	}
	return r.Items[0].Type
}
