package model

// MediaDescriptor describes an attachment on a canonical message. On download
// failure DownloadStatus is "failed", LocalPath is empty and FallbackCaption
// carries the text shown in place of the media; the message is still persisted.
type MediaDescriptor struct {
	Kind            ContentType    `json:"kind"`
	SourceURL       string         `json:"sourceUrl,omitempty"`
	EmbeddedPayload []byte         `json:"embeddedPayload,omitempty"`
	MimeType        string         `json:"mimeType,omitempty"`
	SizeBytes       int64          `json:"sizeBytes,omitempty"`
	LocalPath       string         `json:"localPath,omitempty"`
	DownloadStatus  DownloadStatus `json:"downloadStatus"`
	FallbackCaption string         `json:"fallbackCaption,omitempty"`
}
