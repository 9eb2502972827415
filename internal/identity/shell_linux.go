package identity

import (
	"bufio"
	"os"
	"strings"
)

// lookupShell reads /etc/passwd directly because os/user does not expose
// the shell field. Returns "/bin/sh" if the user cannot be found there
// (e.g. an NSS-backed account with no /etc/passwd entry).
func lookupShell(username string) string {
	const fallback = "/bin/sh"

	f, err := os.Open("/etc/passwd")
	if err != nil {
		return fallback
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 7 {
			continue
		}
		if fields[0] == username {
			return fields[6]
		}
	}

	return fallback
}
