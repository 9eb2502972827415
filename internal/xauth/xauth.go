// Package xauth generates and atomically publishes per-session X11 authority
// files: a MIT-MAGIC-COOKIE-1 cookie bound to a display address, written in
// the standard Xauthority binary record format and owned by the session's
// target user.
package xauth

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lightdm-go/lightdmd/internal/privilege"
)

// CookieLength is the size in bytes of a MIT-MAGIC-COOKIE-1 value.
const CookieLength = 16

// ProtocolName is the only authorization protocol lightdmd issues.
const ProtocolName = "MIT-MAGIC-COOKIE-1"

// FamilyWild is the Xauthority "any address family" marker.
const FamilyWild uint16 = 0xFFFF

// Cookie is a random per-session authorization secret.
type Cookie [CookieLength]byte

// NewCookie generates a fresh random cookie.
func NewCookie() (Cookie, error) {
	var c Cookie
	if _, err := rand.Read(c[:]); err != nil {
		return Cookie{}, fmt.Errorf("xauth: generating cookie: %w", err)
	}
	return c, nil
}

// File describes one written Xauthority file.
type File struct {
	Path      string
	OwnerUID  uint32
	OwnerGID  uint32
	Cookie    Cookie
	DisplayNo string
}

// Write generates the on-disk Xauthority record for cookie bound to
// display, owned by (uid, gid), at path. It writes to a temporary file in
// the same directory, fsyncs, chowns while privileged, then renames onto
// path -- so a concurrent reader never observes a partially written or
// wrongly-owned file.
//
// If the parent directory is not writable, Write reports the error and
// tries no other path.
func Write(path string, display string, cookie Cookie, uid, gid uint32) (*File, error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".Xauthority.tmp-*")
	if err != nil {
		return nil, fmt.Errorf("xauth: creating temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	// Ensure we never leak the temp file on any error path below.
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("xauth: chmod temp file: %w", err)
	}

	record := encodeRecord(display, cookie)
	if _, err := tmp.Write(record); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("xauth: writing record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("xauth: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("xauth: closing temp file: %w", err)
	}

	if err := privilege.RunAs(0, 0, func() error {
		return os.Chown(tmpPath, int(uid), int(gid))
	}); err != nil {
		return nil, fmt.Errorf("xauth: chown %s to uid %d: %w", tmpPath, uid, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return nil, fmt.Errorf("xauth: rename into place: %w", err)
	}
	success = true

	return &File{Path: path, OwnerUID: uid, OwnerGID: gid, Cookie: cookie, DisplayNo: display}, nil
}

// Remove unlinks the Xauthority file. Unlink is best-effort: callers
// should log a failure here but never treat it as fatal.
func Remove(f *File) error {
	if f == nil {
		return nil
	}
	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("xauth: removing %s: %w", f.Path, err)
	}
	return nil
}

// encodeRecord serializes one Xauthority record: a big-endian 16-bit
// family, then address/display/name/data each behind a big-endian 16-bit
// length prefix.
func encodeRecord(display string, cookie Cookie) []byte {
	// family(2) is FamilyWild since we don't bind the cookie to a specific
	// transport address family; hostname-qualified addresses are resolved by
	// whatever client asks to connect with this cookie.
	var buf []byte
	buf = appendField16(buf, uint16ToBytes(FamilyWild))
	buf = appendString16(buf, "") // address
	buf = appendString16(buf, display)
	buf = appendString16(buf, ProtocolName)
	buf = appendString16(buf, string(cookie[:]))
	return buf
}

func uint16ToBytes(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func appendField16(buf, field []byte) []byte {
	return append(buf, field...)
}

func appendString16(buf []byte, s string) []byte {
	lenBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBuf, uint16(len(s)))
	buf = append(buf, lenBuf...)
	return append(buf, s...)
}

// Read parses a single Xauthority record back out of path, returning the
// bound cookie.
func Read(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("xauth: reading %s: %w", path, err)
	}

	r := &reader{buf: data}
	if _, err := r.readUint16(); err != nil { // family
		return nil, fmt.Errorf("xauth: %s: %w", path, err)
	}
	if _, err := r.readString(); err != nil { // address
		return nil, fmt.Errorf("xauth: %s: %w", path, err)
	}
	display, err := r.readString()
	if err != nil {
		return nil, fmt.Errorf("xauth: %s: %w", path, err)
	}
	name, err := r.readString()
	if err != nil {
		return nil, fmt.Errorf("xauth: %s: %w", path, err)
	}
	if name != ProtocolName {
		return nil, fmt.Errorf("xauth: %s: unexpected authorization name %q", path, name)
	}
	cookieBytes, err := r.readField()
	if err != nil {
		return nil, fmt.Errorf("xauth: %s: %w", path, err)
	}
	if len(cookieBytes) != CookieLength {
		return nil, fmt.Errorf("xauth: %s: unexpected cookie length %d", path, len(cookieBytes))
	}

	var cookie Cookie
	copy(cookie[:], cookieBytes)

	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("xauth: stat %s: %w", path, err)
	}
	uid, gid := statOwner(st)

	return &File{Path: path, OwnerUID: uid, OwnerGID: gid, Cookie: cookie, DisplayNo: display}, nil
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) readUint16() (uint16, error) {
	if r.pos+2 > len(r.buf) {
		return 0, fmt.Errorf("truncated record")
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos : r.pos+2])
	r.pos += 2
	return v, nil
}

func (r *reader) readField() ([]byte, error) {
	n, err := r.readUint16()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.buf) {
		return nil, fmt.Errorf("truncated field")
	}
	field := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return field, nil
}

func (r *reader) readString() (string, error) {
	field, err := r.readField()
	if err != nil {
		return "", err
	}
	return string(field), nil
}
