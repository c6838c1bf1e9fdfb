package cli

import "fmt"

// ExitError carries a process exit code out of a command, mirroring the
// remote command's return code (timeouts map to 124). The message, when
// set, is printed once by main before exiting.
type ExitError struct {
	code    int
	message string
}

// Error satisfies the error interface so cobra propagates it unchanged.
func (e *ExitError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.message != "":
		return e.message
	default:
		return fmt.Sprintf("exit %d", e.code)
	}
}

// Code is the exit code for os.Exit; a nil receiver defaults to 1.
func (e *ExitError) Code() int {
	if e == nil {
		return 1
	}
	return e.code
}

// Message is the optional text to print before exiting.
func (e *ExitError) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}
