// Package privilege implements the scoped UID/GID switch every on-behalf-of-
// user filesystem operation (XAuthority writes, .dmrc writes, guest
// provisioning) and every session spawn must go through. A dropped Guard
// that fails to restore the original identity is treated as fatal: the
// process can no longer be trusted to continue running as root.
package privilege

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// mu serializes privilege transitions process-wide. The real/effective
// UID+GID pair is global OS state; two goroutines racing to enter/leave a
// Guard concurrently would corrupt each other's view of "current identity".
var mu sync.Mutex

// Guard represents an active, scoped privilege drop. Release restores the
// identity that was current when Enter was called.
type Guard struct {
	origUID int
	origGID int
	held    bool
}

// Enter drops the real and effective UID/GID to uid/gid, GID first then
// UID — changing UID first would discard the permission needed to
// still change GID. It returns a Guard
// whose Release restores the original identity.
//
// Enter acquires a process-wide lock that Release frees; callers must not
// call Enter again (from any goroutine) before the previous Guard is
// released.
func Enter(uid, gid uint32) (*Guard, error) {
	mu.Lock()

	origUID := unix.Getuid()
	origGID := unix.Getgid()

	if err := setresgid(int(gid)); err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("privilege: dropping to gid %d: %w", gid, err)
	}
	if err := setresuid(int(uid)); err != nil {
		// We already dropped GID; if we can't also drop UID we are in an
		// inconsistent, fatal state rather than merely "failed to begin".
		panic(fmt.Sprintf("privilege: dropped gid to %d but failed to drop uid to %d: %v; cannot safely continue", gid, uid, err))
	}

	return &Guard{origUID: origUID, origGID: origGID, held: true}, nil
}

// RunAs runs fn with the real and effective identity scoped to uid/gid,
// guaranteeing the privilege is restored before RunAs returns, even if fn
// panics.
func RunAs(uid, gid uint32, fn func() error) error {
	g, err := Enter(uid, gid)
	if err != nil {
		return err
	}
	defer g.Release()
	return fn()
}

// Release restores the identity captured by Enter. Failure to restore is
// fatal: any other behavior risks leaking privilege.
func (g *Guard) Release() {
	if g == nil || !g.held {
		return
	}
	g.held = false
	defer mu.Unlock()

	// Reverse order of Enter: UID first, then GID.
	if err := setresuid(g.origUID); err != nil {
		panic(fmt.Sprintf("privilege: failed to restore uid %d: %v; refusing to continue running with dropped privileges", g.origUID, err))
	}
	if err := setresgid(g.origGID); err != nil {
		panic(fmt.Sprintf("privilege: failed to restore gid %d: %v; refusing to continue running with dropped privileges", g.origGID, err))
	}
}

// setresuid sets the real and effective UID to uid in one atomic call and
// leaves the saved UID unchanged, which is what lets Release switch back.
func setresuid(uid int) error {
	return unix.Setresuid(uid, uid, -1)
}

func setresgid(gid int) error {
	return unix.Setresgid(gid, gid, -1)
}
