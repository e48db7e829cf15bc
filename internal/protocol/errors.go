package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Command layer.
	ErrBadRequest     = "E_BAD_REQUEST"
	ErrUnknownCommand = "E_UNKNOWN_COMMAND"
	ErrUnknownScene   = "E_UNKNOWN_SCENE"
	ErrBusy           = "E_BUSY"
	ErrInternal       = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadRequest:      {},
	ErrUnknownCommand:  {},
	ErrUnknownScene:    {},
	ErrBusy:            {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
