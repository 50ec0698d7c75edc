// Package instagram provides an HTTP client for Instagram's mobile and
// web surfaces.
//
// This package includes:
//   - A proxy-aware HTTP client with per-surface header sets
//   - Type-safe models for the oEmbed, media info, embed and GraphQL payloads
//   - Helper functions for constructing endpoint URLs
//
// Requests fail with typed errors from pkg/errors, so callers can
// distinguish authentication failures, rate limiting and transient
// network problems:
//
//	client, err := instagram.NewClient(instagram.ClientOptions{Proxy: p})
//	if err != nil {
//	    return err
//	}
//
//	var info instagram.MediaInfoResponse
//	err = client.GetJSON(ctx, client.Endpoints().MediaInfoURL(id), instagram.MobileHeaders(), &info)
//	if errors.IsType(err, errors.ErrorTypeAuth) {
//	    // rotate the account
//	}
package instagram
