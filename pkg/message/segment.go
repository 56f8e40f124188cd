// Copyright 2024-2026 Aiku AI

package message

// Segment is one unit of message content. Implementations are pointer types
// so enrichment (e.g. filling in a mention's display name) mutates the
// message in place.
type Segment interface {
	isSegment()
}

// Text is a plain text run.
type Text struct {
	Text string
}

// MediaKind classifies an attachment segment.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
	MediaFile  MediaKind = "file"
)

// Media is an attachment. Exactly one of URL, LocalPath or Data is the
// payload source; Data buffers are materialized to disk by the converter
// before sending.
type Media struct {
	Kind      MediaKind
	URL       string
	LocalPath string
	Data      []byte
	Filename  string
	Spoiler   bool
}

// At mentions a user. UserName may be empty until mention resolution runs.
type At struct {
	UserID   string
	UserName string
}

// Reply references an earlier message on the origin platform.
type Reply struct {
	MessageID  string
	SenderID   string
	SenderName string
}

// Face is a platform emoticon identified by a numeric id.
type Face struct {
	ID   string
	Text string
}

// Forward is a merged-forward container of nested messages, each keeping
// its original sender identity.
type Forward struct {
	Messages []*Unified
}

// Location is a geographic point with an optional title.
type Location struct {
	Title string
	Lat   float64
	Lon   float64
}

func (*Text) isSegment()     {}
func (*Media) isSegment()    {}
func (*At) isSegment()       {}
func (*Reply) isSegment()    {}
func (*Face) isSegment()     {}
func (*Forward) isSegment()  {}
func (*Location) isSegment() {}
