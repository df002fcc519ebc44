package approvalpolicy

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyArgument         = errors.New("argument is empty")
	ErrArgumentNullByte      = errors.New("argument contains a null byte")
	ErrArgumentControlChar   = errors.New("argument contains control characters")
	ErrArgumentShellMetachar = errors.New("argument contains shell metacharacters")
)

// ArgumentError names which positional argument of a command failed
// SanitizeArguments.
type ArgumentError struct {
	Index int
	Arg   string
	Err   error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("argument %d (%q) is unsafe: %v", e.Index, e.Arg, e.Err)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

// SanitizeArgument validates a single command argument. Arguments are
// checked less strictly than the executable token (SanitizeExecutable): a
// leading dash or embedded quote is legitimate in an argument, while empty
// arguments, null bytes, control characters and shell metacharacters are
// rejected.
func SanitizeArgument(arg string) (string, error) {
	if arg == "" {
		return "", ErrEmptyArgument
	}
	if strings.Contains(arg, "\x00") {
		return "", ErrArgumentNullByte
	}
	if controlChars.MatchString(arg) {
		return "", ErrArgumentControlChar
	}
	if shellMetachars.MatchString(arg) {
		return "", ErrArgumentShellMetachar
	}
	return arg, nil
}

// SanitizeArguments validates every element of args, returning the first
// failure wrapped in an *ArgumentError naming its index.
func SanitizeArguments(args []string) ([]string, error) {
	if args == nil {
		return nil, nil
	}
	result := make([]string, 0, len(args))
	for i, arg := range args {
		sanitized, err := SanitizeArgument(arg)
		if err != nil {
			return nil, &ArgumentError{Index: i, Arg: arg, Err: err}
		}
		result = append(result, sanitized)
	}
	return result, nil
}
