package xauth

import (
	"os"
	"syscall"
)

// statOwner extracts the uid/gid of a file from its os.FileInfo.
func statOwner(fi os.FileInfo) (uid, gid uint32) {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return st.Uid, st.Gid
	}
	return 0, 0
}
