package browser

import (
	"os"
	"os/exec"
)

var chromeNames = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"chrome",
	"headless-shell",
}

// Locate returns a usable Chrome executable. A configured path wins when it
// exists; otherwise PATH is searched for the usual binary names.
func Locate(configured string) (string, bool) {
	if configured != "" {
		if info, err := os.Stat(configured); err == nil && !info.IsDir() {
			return configured, true
		}
		return "", false
	}
	for _, name := range chromeNames {
		if path, err := exec.LookPath(name); err == nil {
			return path, true
		}
	}
	return "", false
}
