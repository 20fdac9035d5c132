//go:build windows

package platform

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
)

type mutexPortLock struct {
	handle windows.Handle
}

// acquirePortLock creates a session-local named mutex scoped to the user.
// Windows does not expose the owner of a named mutex, so the holder pid
// stays unknown.
func acquirePortLock(app string, port int) (PortLock, error) {
	sid, err := currentUserSID()
	if err != nil {
		return nil, err
	}

	namePtr, err := windows.UTF16PtrFromString(portMutexName(app, port, sid))
	if err != nil {
		return nil, fmt.Errorf("encode port mutex name: %w", err)
	}

	handle, err := windows.CreateMutex(nil, false, namePtr)
	if errors.Is(err, windows.ERROR_ALREADY_EXISTS) {
		if handle != 0 {
			_ = windows.CloseHandle(handle)
		}
		return nil, &PortLockedError{Port: port}
	}
	if err != nil {
		if handle != 0 {
			_ = windows.CloseHandle(handle)
		}
		return nil, fmt.Errorf("create port mutex: %w", err)
	}

	return &mutexPortLock{handle: handle}, nil
}

func (l *mutexPortLock) Release() error {
	if l == nil || l.handle == 0 {
		return nil
	}

	err := windows.CloseHandle(l.handle)
	l.handle = 0
	if err != nil {
		return fmt.Errorf("close port mutex: %w", err)
	}

	return nil
}

func currentUserSID() (string, error) {
	tokenUser, err := windows.GetCurrentProcessToken().GetTokenUser()
	if err != nil {
		return "", fmt.Errorf("read current user token: %w", err)
	}

	return tokenUser.User.Sid.String(), nil
}

func portMutexName(app string, port int, userSID string) string {
	return `Local\` + app + "-" + portLockName(port) + "-" + lockComponent(userSID, "sid")
}
