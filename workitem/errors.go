package workitem

import "errors"

var (
	ErrNotFound          = errors.New("workitem: not found")
	ErrForbidden         = errors.New("workitem: forbidden")
	ErrInvalidTransition = errors.New("workitem: invalid transition")
	ErrMissingComment    = errors.New("workitem: comment required")
	ErrTransitionFailed  = errors.New("workitem: transition failed")
	ErrInvalidInput      = errors.New("workitem: invalid input")
)

var kinds = []struct {
	err     error
	code    string
	message string
}{
	{ErrNotFound, "not_found", "This item no longer exists. Refresh the board."},
	{ErrForbidden, "forbidden", "You are not assigned to perform this action on the item."},
	{ErrInvalidTransition, "invalid_transition", "The item has moved on since you loaded it. Refresh and try again."},
	{ErrMissingComment, "missing_comment", "Please add a comment explaining the request."},
	{ErrTransitionFailed, "transition_failed", "The change could not be saved. Check your connection and retry."},
	{ErrInvalidInput, "invalid_input", "Some required details are missing or malformed."},
}

// Code returns a stable machine-readable code for err, or "internal".
func Code(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return "internal"
}

// Describe returns the message shown to a person for err.
func Describe(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.message
		}
	}
	return "Something went wrong. Please try again later."
}

// FromCode maps a code produced by Code back to its sentinel, or nil.
func FromCode(code string) error {
	for _, k := range kinds {
		if k.code == code {
			return k.err
		}
	}
	return nil
}
