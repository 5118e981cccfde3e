package command

import (
	"errors"
	"fmt"

	"github.com/planlines/server/internal/core/ecs"
	"github.com/planlines/server/internal/plan"
	"github.com/planlines/server/internal/wire"
	"github.com/planlines/server/internal/world"
)

// Kind identifies a command on the wire and in journals.
type Kind uint8

const (
	KindCreatePlan Kind = iota + 1
	KindAddLine
	KindChangeVisibility
	KindRemovePlan
	KindRemoveLine
)

// Permission is the minimum privilege an actor needs to issue a command.
type Permission uint8

const (
	PermAny Permission = iota
	PermCompany
	PermServer
	PermDeity
)

func (p Permission) String() string {
	switch p {
	case PermAny:
		return "any"
	case PermCompany:
		return "company"
	case PermServer:
		return "server"
	case PermDeity:
		return "deity"
	default:
		return fmt.Sprintf("perm(%d)", uint8(p))
	}
}

// Category groups commands for cost accounting.
type Category uint8

const (
	CategoryOtherManagement Category = iota + 1
)

// Traits are the static properties of a command kind.
type Traits struct {
	Name       string
	Version    uint16
	Permission Permission
	Category   Category
}

var traits = map[Kind]Traits{
	KindCreatePlan:       {Name: "CreatePlan", Version: 1, Permission: PermDeity, Category: CategoryOtherManagement},
	KindAddLine:          {Name: "AddLine", Version: 1, Permission: PermDeity, Category: CategoryOtherManagement},
	KindChangeVisibility: {Name: "ChangeVisibility", Version: 1, Permission: PermDeity, Category: CategoryOtherManagement},
	KindRemovePlan:       {Name: "RemovePlan", Version: 1, Permission: PermDeity, Category: CategoryOtherManagement},
	KindRemoveLine:       {Name: "RemoveLine", Version: 1, Permission: PermDeity, Category: CategoryOtherManagement},
}

// TraitsOf returns the traits of k.
func TraitsOf(k Kind) (Traits, bool) {
	t, ok := traits[k]
	return t, ok
}

func (k Kind) String() string {
	if t, ok := traits[k]; ok {
		return t.Name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Command is one deterministic state transition. Check is the dry run: it
// must not mutate anything and may be called any number of times. Apply
// performs the mutation and is only called after Check passed against the
// same state.
type Command interface {
	Kind() Kind
	Check(w *world.State) *Error
	Apply(w *world.State) (ecs.ID, error)
	Encode(wr *wire.Writer)
}

// Actor is whoever issued a command.
type Actor struct {
	Owner      plan.Owner
	Permission Permission
	// Session is the connection the command arrived on; 0 for commands
	// issued by this process.
	Session uint64
	// Local is true when the command originates from this replica's own
	// viewer, which enables result callbacks.
	Local bool
}

// Cost is the accounting outcome of a command.
type Cost struct {
	Category Category
	Money    int64
}

// Result is the tagged outcome of Validate or Execute.
type Result struct {
	Cost  Cost
	Err   *Error
	NewID ecs.ID
}

func (r Result) Succeeded() bool { return r.Err == nil }

// ErrorKind classifies a rejected command.
type ErrorKind uint8

const (
	CapacityExceeded ErrorKind = iota + 1
	InvalidHandle
	TooManyPoints
	NoSpaceForLine
	IndexOutOfRange
	MalformedPayload
	NotAuthorized
)

var messageKeys = map[ErrorKind]string{
	CapacityExceeded: "STR_ERROR_TOO_MANY_PLANS",
	InvalidHandle:    "STR_ERROR_PLAN_DOES_NOT_EXIST",
	TooManyPoints:    "STR_ERROR_TOO_MANY_NODES",
	NoSpaceForLine:   "STR_ERROR_NO_MORE_SPACE_FOR_LINES",
	IndexOutOfRange:  "STR_ERROR_PLAN_LINE_DOES_NOT_EXIST",
	MalformedPayload: "STR_ERROR_MALFORMED_PLAN_LINE",
	NotAuthorized:    "STR_ERROR_NOT_ALLOWED",
}

// Error is a structured command failure.
type Error struct {
	Kind       ErrorKind
	MessageKey string
}

func newError(k ErrorKind) *Error {
	return &Error{Kind: k, MessageKey: messageKeys[k]}
}

func (e *Error) Error() string { return e.MessageKey }

// ErrorFromKind rebuilds an Error received over the wire.
func ErrorFromKind(k ErrorKind) *Error { return newError(k) }

// ErrDesync reports that Apply failed after Check passed, meaning this
// replica no longer matches the others. It is never recoverable.
var ErrDesync = errors.New("command: replica desynchronized")
