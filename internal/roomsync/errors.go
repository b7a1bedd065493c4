package roomsync

import (
	"errors"
)

var (
	ErrEmptyDraft   = errors.New("roomsync: draft is empty")
	ErrNoSession    = errors.New("roomsync: not signed in")
	ErrNoRoom       = errors.New("roomsync: no room selected")
	ErrSendInFlight = errors.New("roomsync: a send is already in flight")
	ErrClosed       = errors.New("roomsync: view closed")
	ErrEntered      = errors.New("roomsync: view already entered")
	// ErrNotFound 由协作方在查无此行时返回。
	ErrNotFound = errors.New("roomsync: not found")
)

// Kind 是 Notice 的分类。
type Kind int

const (
	KindBackend Kind = iota
	KindValidation
	KindAuthorization
	KindAI
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindBackend:
		return "backend"
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindAI:
		return "ai"
	case KindNotFound:
		return "not-found"
	}
	return "unknown"
}

// Notice 是给用户看的失败提示。视图内的每个失败都以 Notice 结束，不做重试。
type Notice struct {
	Kind  Kind
	Title string
	Err   error
}

func (n Notice) String() string {
	if n.Err == nil {
		return n.Kind.String() + ": " + n.Title
	}
	return n.Kind.String() + ": " + n.Title + ": " + n.Err.Error()
}

func kindOf(err error) Kind {
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	return KindBackend
}
