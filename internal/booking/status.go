package booking

import "fmt"

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusAccepted, StatusRejected, StatusOngoing, StatusCompleted, StatusCancelled:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown status: %s", s)
	}
}

var allowedTransitions = map[Status]map[Status]bool{
	StatusPending:   {StatusAccepted: true, StatusRejected: true, StatusCancelled: true},
	StatusAccepted:  {StatusOngoing: true, StatusCancelled: true},
	StatusOngoing:   {StatusCompleted: true, StatusCancelled: true},
	StatusRejected:  {}, // re-offer creates a new booking instead
	StatusCompleted: {},
	StatusCancelled: {},
}

func CanTransition(from, to Status) bool {
	m, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return m[to]
}

// Terminal reports whether no further status change is possible.
func (s Status) Terminal() bool {
	m, ok := allowedTransitions[s]
	return ok && len(m) == 0
}

// Action is a lifecycle operation. Each action is legal only from its source statuses.
type Action string

const (
	ActionAccept  Action = "accept"
	ActionReject  Action = "reject"
	ActionStart   Action = "start"
	ActionEnd     Action = "end"
	ActionCancel  Action = "cancel"
	ActionAssign  Action = "assign"
	ActionReview  Action = "review"
	ActionReoffer Action = "reoffer"
)

// actionTargets lists the status each status-changing action moves to. Their
// source statuses come from allowedTransitions.
var actionTargets = map[Action]Status{
	ActionAccept: StatusAccepted,
	ActionReject: StatusRejected,
	ActionStart:  StatusOngoing,
	ActionEnd:    StatusCompleted,
	ActionCancel: StatusCancelled,
}

// actionSources covers actions that act on a booking without moving its status.
var actionSources = map[Action][]Status{
	ActionAssign:  {StatusAccepted},
	ActionReview:  {StatusCompleted},
	ActionReoffer: {StatusRejected},
}

var statusOrder = []Status{StatusPending, StatusAccepted, StatusRejected, StatusOngoing, StatusCompleted, StatusCancelled}

func sourcesOf(a Action) []Status {
	target, ok := actionTargets[a]
	if !ok {
		return actionSources[a]
	}
	var out []Status
	for _, from := range statusOrder {
		if CanTransition(from, target) {
			out = append(out, from)
		}
	}
	return out
}

func allows(a Action, from Status) bool {
	if target, ok := actionTargets[a]; ok {
		return CanTransition(from, target)
	}
	for _, s := range actionSources[a] {
		if s == from {
			return true
		}
	}
	return false
}
