package policy

import (
	"errors"
	"fmt"
)

var (
	// ErrPolicyParse matches every ParseError.
	ErrPolicyParse = errors.New("policy parse error")

	// ErrUnknownRuleToken matches every UnknownTokenError.
	ErrUnknownRuleToken = errors.New("unknown rule token")
)

// ParseError reports malformed policy structure. Line is 1-based within the
// whole document (front-matter delimiters included); Field is the dotted path
// of the offending key when known.
type ParseError struct {
	Line  int
	Field string
	Msg   string
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("policy: line %d (%s): %s", e.Line, e.Field, e.Msg)
	}
	return fmt.Sprintf("policy: line %d: %s", e.Line, e.Msg)
}

func (e *ParseError) Is(target error) bool { return target == ErrPolicyParse }

// UnknownTokenError reports a condition, action, transition or default name
// that is not part of the closed vocabulary.
type UnknownTokenError struct {
	Line  int
	Field string
	Token string
}

func (e *UnknownTokenError) Error() string {
	return fmt.Sprintf("policy: line %d (%s): unknown rule token %q", e.Line, e.Field, e.Token)
}

func (e *UnknownTokenError) Is(target error) bool { return target == ErrUnknownRuleToken }
