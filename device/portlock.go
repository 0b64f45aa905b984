package device

import (
	"os"
	"path/filepath"
	"strings"
)

// portLock is an advisory lock file shared by every flasher process on the
// host. The OS-specific halves live in portlock_unix.go and portlock_windows.go.
type portLock struct {
	f *os.File
}

// lockPath maps a port name to its lock file in the temp dir.
func lockPath(port string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, strings.TrimPrefix(port, `\\.\`))
	return filepath.Join(os.TempDir(), "arduflash-"+name+".lock")
}

func lockPort(port string) (*portLock, error) {
	f, err := os.OpenFile(lockPath(port), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &portLock{f: f}, nil
}

func (l *portLock) release() {
	if l == nil || l.f == nil {
		return
	}
	_ = unlockFile(l.f)
	_ = l.f.Close()
	l.f = nil
}
