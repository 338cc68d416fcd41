package packet

import "errors"

var (
	ErrShortWrite   = errors.New("packet: short write to peer")
	ErrInvalidChunk = errors.New("packet: chunk size must be positive")
)
