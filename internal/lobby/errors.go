package lobby

import "errors"

// Kind classifies lobby errors so the HTTP and websocket boundaries can
// choose a response without string matching.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalid
	KindNotFound
	KindConflict
	KindUnauthorized
	KindStoreUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindStoreUnavailable:
		return "store_unavailable"
	default:
		return "unknown"
	}
}

// Error is a typed lobby failure. Two Errors match under errors.Is when
// their codes are equal.
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrInvalidArgument  = &Error{Kind: KindInvalid, Code: "invalid_argument", Msg: "invalid argument"}
	ErrLobbyNotFound    = &Error{Kind: KindNotFound, Code: "lobby_not_found", Msg: "lobby not found"}
	ErrPlayerNotFound   = &Error{Kind: KindNotFound, Code: "player_not_found", Msg: "player not in lobby"}
	ErrLobbyFull        = &Error{Kind: KindConflict, Code: "lobby_full", Msg: "lobby is full"}
	ErrWrongPassword    = &Error{Kind: KindConflict, Code: "wrong_password", Msg: "wrong lobby password"}
	ErrNotJoinable      = &Error{Kind: KindConflict, Code: "not_joinable", Msg: "lobby is not accepting this action"}
	ErrNotInGame        = &Error{Kind: KindConflict, Code: "not_in_game", Msg: "race is not running"}
	ErrAlreadyFinished  = &Error{Kind: KindConflict, Code: "already_finished", Msg: "player already finished"}
	ErrNotHost          = &Error{Kind: KindUnauthorized, Code: "not_host", Msg: "only the host can do that"}
	ErrStoreUnavailable = &Error{Kind: KindStoreUnavailable, Code: "store_unavailable", Msg: "lobby store unavailable"}
)

// invalid returns an ErrInvalidArgument carrying a specific message.
func invalid(msg string) error {
	return &Error{Kind: KindInvalid, Code: ErrInvalidArgument.Code, Msg: msg}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the code of the first *Error in err's chain, or "internal".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}

// PublicMessage is the text shown to callers for err. Store and unexpected
// failures get a generic message.
func PublicMessage(err error) string {
	switch KindOf(err) {
	case KindStoreUnavailable, KindUnknown:
		return "service temporarily unavailable, try again"
	}
	var e *Error
	errors.As(err, &e)
	return e.Msg
}
