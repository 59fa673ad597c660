package file

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// ExpandUser replaces a leading ~ or ~user with that user's home directory.
func ExpandUser(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}

	slashIndex := strings.Index(path, "/")
	if slashIndex == -1 {
		slashIndex = len(path)
	}

	username := path[1:slashIndex]
	var homedir string
	if username == "" {
		if home, err := os.UserHomeDir(); err == nil {
			homedir = home
		}
	} else {
		homedir = lookupLinuxUser(username)
	}
	if homedir == "" {
		return path
	}
	return filepath.Join(homedir, path[slashIndex:])
}

func lookupLinuxUser(username string) string {
	f, err := os.Open("/etc/passwd")
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ":")
		if len(parts) > 5 && parts[0] == username {
			return parts[5]
		}
	}
	return ""
}

// Normpath expands and cleans a configured path. Empty stays empty.
func Normpath(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Clean(ExpandUser(path))
}
