package signaling

import "errors"

var (
	ErrPeerNotFound       = errors.New("peer not found")
	ErrTooManyPeers       = errors.New("too many peers")
	ErrDuplicateID        = errors.New("failed to allocate unique peer id")
	ErrInvalidRole        = errors.New("invalid peer role")
	ErrMalformedMessage   = errors.New("malformed message")
	ErrUnknownMessageType = errors.New("unknown message type")
	// ErrUnexpectedMessage is returned for messages a peer of that role may
	// not send, including relay-originated kinds.
	ErrUnexpectedMessage = errors.New("unexpected message for role")
	ErrUnknownTarget     = errors.New("target peer not connected")
	ErrLinkClosed        = errors.New("link closed")
	ErrOutboxFull        = errors.New("outbox full")
)
