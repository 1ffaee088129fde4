package stream

// Contract constants shared with the host application that owns the sink.
const (
	// Authority identifies the host's stream content provider.
	Authority = "org.ohmage.streams"

	// ActionWrite is the bind action that opens the one-way write connection.
	ActionWrite = "org.ohmage.streams.ACTION_WRITE"

	// ActionConfigure is handled by stream apps that can be configured by the host.
	ActionConfigure = "org.ohmage.streams.ACTION_CONFIGURE"

	// ActionView is handled by stream apps that can display their own data.
	ActionView = "org.ohmage.streams.ACTION_VIEW"
)

// Column names used by the local store and by every encoded point.
const (
	ColumnStreamID       = "stream_id"
	ColumnStreamVersion  = "stream_version"
	ColumnUsername       = "username"
	ColumnStreamMetadata = "stream_metadata"
	ColumnStreamData     = "stream_data"
)

// Content paths under Authority.
const (
	PathStreams = "streams"
	PathCounts  = "counts"
)

// StreamsURI returns the content URI for stream points.
func StreamsURI() string {
	return "content://" + Authority + "/" + PathStreams
}

// CountsURI returns the content URI for per-stream point counts.
func CountsURI() string {
	return "content://" + Authority + "/" + PathCounts
}
