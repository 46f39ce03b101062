package mention

// Key is a keyboard key name as reported by the browser (KeyboardEvent.key).
type Key string

const (
	KeyArrowDown Key = "ArrowDown"
	KeyArrowUp   Key = "ArrowUp"
	KeyEscape    Key = "Escape"
	KeyEnter     Key = "Enter"
	KeyTab       Key = "Tab"
)

// Action tells the caller what to do with a keystroke.
type Action int

const (
	// ActionNone means the key is not intercepted and keeps its default behavior.
	ActionNone Action = iota
	// ActionMove means the selection index changed.
	ActionMove
	// ActionCancel closes the active mention.
	ActionCancel
	// ActionCommit inserts the selected candidate.
	ActionCommit
)

func (a Action) String() string {
	switch a {
	case ActionMove:
		return "move"
	case ActionCancel:
		return "cancel"
	case ActionCommit:
		return "commit"
	default:
		return "none"
	}
}

// Navigator tracks the selected candidate of a result list.
type Navigator struct {
	index int
	count int
}

// SetCandidates replaces the candidate count and resets the selection.
func (n *Navigator) SetCandidates(count int) {
	n.count = max(count, 0)
	n.index = 0
}

// Index returns the selected candidate, or -1 when there are none.
func (n *Navigator) Index() int {
	if n.count == 0 {
		return -1
	}
	return n.index
}

// HandleKey applies key to the selection.
func (n *Navigator) HandleKey(key Key) Action {
	switch key {
	case KeyArrowDown:
		if n.count == 0 {
			return ActionNone
		}
		n.index = (n.index + 1) % n.count
		return ActionMove
	case KeyArrowUp:
		if n.count == 0 {
			return ActionNone
		}
		n.index = (n.index - 1 + n.count) % n.count
		return ActionMove
	case KeyEscape:
		return ActionCancel
	case KeyEnter, KeyTab:
		if n.count == 0 {
			return ActionNone
		}
		return ActionCommit
	}
	return ActionNone
}
