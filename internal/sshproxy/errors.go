package sshproxy

import (
	"errors"
	"fmt"
)

// ErrConnectFailed matches every *ConnectError.
var ErrConnectFailed = errors.New("failed to connect to instance")

// ConnectError reports a failure to build a tunnel: an unreadable key, an SSH
// dial or auth failure, a listener bind failure or a pool setup failure.
type ConnectError struct {
	InstanceID string
	Cause      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to instance %s: %v", e.InstanceID, e.Cause)
}

func (e *ConnectError) Unwrap() error { return e.Cause }

func (e *ConnectError) Is(target error) bool { return target == ErrConnectFailed }
