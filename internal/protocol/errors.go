package protocol

const (
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// World edits.
	ErrBadRequest = "E_BAD_REQUEST"
	ErrOccupied   = "E_OCCUPIED"
	ErrNotFound   = "E_NOT_FOUND"
	ErrWrongKind  = "E_WRONG_KIND"
	ErrBusy       = "E_BUSY"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadRequest:      {},
	ErrOccupied:        {},
	ErrNotFound:        {},
	ErrWrongKind:       {},
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
