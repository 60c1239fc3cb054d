package build

import "fmt"

// InputError reports a map or tile-set document that could not be read or
// parsed. It is fatal for the map it belongs to; other maps still build.
type InputError struct {
	Path string
	Err  error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("input %s: %v", e.Path, e.Err)
}

func (e *InputError) Unwrap() error {
	return e.Err
}
