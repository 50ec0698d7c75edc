package extractor

import (
	"igfetch/pkg/instagram"
	"igfetch/pkg/media"
)

// normalizeMobileItem converts a mobile API media item into media refs.
// Carousel children are flattened in order; a non-carousel item yields
// a single ref.
func normalizeMobileItem(item *instagram.MediaItem) (string, []media.Ref) {
	caption := ""
	if item.Caption != nil {
		caption = item.Caption.Text
	}

	if len(item.CarouselMedia) > 0 {
		var refs []media.Ref
		for _, child := range item.CarouselMedia {
			if child == nil {
				continue
			}
			if ref := mobileNodeRef(child); ref != nil {
				refs = append(refs, *ref)
			}
		}
		return caption, refs
	}

	if ref := mobileNodeRef(item); ref != nil {
		return caption, []media.Ref{*ref}
	}
	return caption, nil
}

// mobileNodeRef picks the best rendition of a single mobile node.
// Video beats image; among videos the largest pixel area wins; among
// images the first candidate is already the best.
func mobileNodeRef(node *instagram.MediaItem) *media.Ref {
	if len(node.VideoVersions) > 0 {
		if best := bestVideoURL(node.VideoVersions); best != "" {
			return &media.Ref{URL: best, Type: media.TypeVideo, Duration: node.VideoDuration}
		}
	}

	if node.ImageVersions2 != nil && len(node.ImageVersions2.Candidates) > 0 {
		first := node.ImageVersions2.Candidates[0]
		if first.URL != "" {
			return &media.Ref{URL: first.URL, Type: media.TypePhoto}
		}
	}

	return nil
}

func bestVideoURL(versions []instagram.VideoVersion) string {
	bestURL := ""
	bestArea := -1
	for _, v := range versions {
		if v.URL == "" {
			continue
		}
		area := v.Width * v.Height
		if area > bestArea {
			bestArea = area
			bestURL = v.URL
		}
	}
	return bestURL
}

// normalizeGraphContainer converts an embed or GraphQL media node into
// media refs.
func normalizeGraphContainer(container *instagram.GraphContainer) (string, []media.Ref) {
	node := container.Media()
	if node == nil {
		return "", nil
	}

	caption := node.CaptionText()

	if node.EdgeSidecarToChildren != nil && len(node.EdgeSidecarToChildren.Edges) > 0 {
		var refs []media.Ref
		for _, edge := range node.EdgeSidecarToChildren.Edges {
			child := edge.Node
			if child.IsVideo && child.VideoURL != "" {
				refs = append(refs, media.Ref{URL: child.VideoURL, Type: media.TypeVideo, Duration: child.VideoDuration})
			} else if child.DisplayURL != "" {
				refs = append(refs, media.Ref{URL: child.DisplayURL, Type: media.TypePhoto})
			}
		}
		if len(refs) > 0 {
			return caption, refs
		}
	}

	if node.VideoURL != "" {
		return caption, []media.Ref{{URL: node.VideoURL, Type: media.TypeVideo, Duration: node.VideoDuration}}
	}
	if node.DisplayURL != "" {
		return caption, []media.Ref{{URL: node.DisplayURL, Type: media.TypePhoto}}
	}

	return caption, nil
}
