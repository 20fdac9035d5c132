package platform

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrPortLocked means another riglink process supervises rigctld on the port.
	ErrPortLocked = errors.New("rigctld port is supervised by another process")
	// ErrPortLockUnsupported means the platform has no lock backend.
	ErrPortLockUnsupported = errors.New("port lock unsupported")
)

// PortLockedError names the port and, where the platform can tell, the
// process holding its lock.
type PortLockedError struct {
	Port      int
	HolderPID int
}

func (e *PortLockedError) Error() string {
	if e.HolderPID > 0 {
		return fmt.Sprintf("%s: port %d, pid %d", ErrPortLocked, e.Port, e.HolderPID)
	}
	return fmt.Sprintf("%s: port %d", ErrPortLocked, e.Port)
}

func (e *PortLockedError) Is(target error) bool {
	return target == ErrPortLocked
}

// PortLock is held for as long as this process supervises rigctld on a port.
type PortLock interface {
	Release() error
}

// AcquirePortLock takes the per-user lock for daemon supervision on port,
// so two riglink processes never spawn rigctld for the same port.
func AcquirePortLock(appID string, port int) (PortLock, error) {
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("acquire port lock: invalid port %d", port)
	}

	return acquirePortLock(lockComponent(appID, "app"), port)
}

func portLockName(port int) string {
	return "rigctld-" + strconv.Itoa(port)
}

// lockComponent reduces raw to characters safe in file and mutex names.
func lockComponent(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	normalized := strings.Trim(b.String(), "_-.")
	if normalized == "" {
		return fallback
	}

	return normalized
}
