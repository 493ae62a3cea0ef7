package model

import "fmt"

// State is the lifecycle state of a task.
//
// The legal transitions are:
//
//	NotInList   -> Pending                      (download)
//	Pending     -> Downloading                  (admission)
//	Downloading -> Paused                       (pause)
//	Downloading -> Stopped | Pending            (stop; Pending when no resume token exists)
//	Paused      -> Downloading | Pending        (resume, depending on capacity)
//	Stopped     -> Downloading | Pending        (resume, depending on capacity)
//	Downloading -> Finished                     (transfer completed)
//	Downloading -> Pending                      (transfer failed)
//	*           -> NotInList                    (delete)
type State int

const (
	// StateNotInList is reported for keys that have no record.
	StateNotInList State = iota

	// StatePending marks a task that is not transferring. It may be waiting
	// for admission or idle after a failure.
	StatePending

	// StateDownloading marks a task holding one of the admission slots.
	StateDownloading

	// StatePaused marks a task whose transfer is suspended or was paused
	// before it was admitted.
	StatePaused

	// StateStopped marks a cancelled task that holds a resume token.
	StateStopped

	// StateFinished marks a task whose file is on disk.
	StateFinished
)

var stateNames = [...]string{
	StateNotInList:   "not_in_list",
	StatePending:     "pending",
	StateDownloading: "downloading",
	StatePaused:      "paused",
	StateStopped:     "stopped",
	StateFinished:    "finished",
}

// String returns the lower snake case name of the state.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText implements encoding.TextMarshaler so states persist by name.
func (s State) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(stateNames) {
		return nil, fmt.Errorf("invalid state %d", int(s))
	}
	return []byte(stateNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState parses the name produced by String.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return StateNotInList, fmt.Errorf("unknown state %q", name)
}
