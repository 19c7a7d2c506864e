package model

// SessionStatus is the runtime connection state of an account's session.
type SessionStatus string

const (
	SessionStatusIdle          SessionStatus = "idle"
	SessionStatusPairing       SessionStatus = "pairing"
	SessionStatusConnecting    SessionStatus = "connecting"
	SessionStatusConnected     SessionStatus = "connected"
	SessionStatusDisconnecting SessionStatus = "disconnecting"
	SessionStatusError         SessionStatus = "error"
)

// TriggerSource records what initiated a connection attempt.
type TriggerSource string

const (
	TriggerManual         TriggerSource = "manual"
	TriggerAuto           TriggerSource = "auto"
	TriggerInvite         TriggerSource = "invite"
	TriggerReconnectToken TriggerSource = "reconnect_token"
)

// AccountStatus is the durable connection state persisted for an account.
type AccountStatus string

const (
	AccountStatusDisconnected AccountStatus = "disconnected"
	AccountStatusPairing      AccountStatus = "pairing"
	AccountStatusConnected    AccountStatus = "connected"
	AccountStatusError        AccountStatus = "error"
)

// Direction of a canonical message relative to the local account.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// ContentType is the normalized classification of message content.
type ContentType string

const (
	ContentTypeText     ContentType = "text"
	ContentTypeImage    ContentType = "image"
	ContentTypeVideo    ContentType = "video"
	ContentTypeAudio    ContentType = "audio"
	ContentTypeDocument ContentType = "document"
	ContentTypeSticker  ContentType = "sticker"
	ContentTypeLocation ContentType = "location"
	ContentTypeContact  ContentType = "contact"
	ContentTypeUnknown  ContentType = "unknown"
)

// MessageStatus tracks delivery state of a stored message.
type MessageStatus string

const (
	MessageStatusPending MessageStatus = "pending"
	MessageStatusSending MessageStatus = "sending"
	MessageStatusSent    MessageStatus = "sent"
	MessageStatusFailed  MessageStatus = "failed"
)

// DownloadStatus is the outcome of a media resolution attempt.
type DownloadStatus string

const (
	DownloadStatusOK     DownloadStatus = "ok"
	DownloadStatusFailed DownloadStatus = "failed"
)
