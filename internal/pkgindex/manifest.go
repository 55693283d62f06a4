// Package pkgindex validates built Python distributions and uploads them to
// a package index using trusted publishing.
package pkgindex

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CheckManifest verifies that every file named by an include directive in
// the MANIFEST.in at root exists on disk. A missing file means the source
// distribution would ship incomplete.
func CheckManifest(root string) error {
	path := filepath.Join(root, "MANIFEST.in")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open MANIFEST.in: %w", err)
	}
	defer f.Close()

	var missing []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "include ") {
			continue
		}
		for _, name := range strings.Fields(line)[1:] {
			// Patterned includes are resolved by the build itself.
			if strings.ContainsAny(name, "*?[") {
				continue
			}
			if _, err := os.Stat(filepath.Join(root, name)); err != nil {
				missing = append(missing, name)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read MANIFEST.in: %w", err)
	}

	if len(missing) > 0 {
		return fmt.Errorf("MANIFEST.in names missing files: %s", strings.Join(missing, ", "))
	}
	return nil
}

// CheckDistributions verifies that the build produced exactly one wheel and
// one source distribution under distDir and returns their paths.
func CheckDistributions(distDir string) (wheel, sdist string, err error) {
	entries, err := os.ReadDir(distDir)
	if err != nil {
		return "", "", fmt.Errorf("read dist dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".whl"):
			if wheel != "" {
				return "", "", fmt.Errorf("multiple wheels in %s", distDir)
			}
			wheel = filepath.Join(distDir, name)
		case strings.HasSuffix(name, ".tar.gz"):
			if sdist != "" {
				return "", "", fmt.Errorf("multiple source distributions in %s", distDir)
			}
			sdist = filepath.Join(distDir, name)
		}
	}

	if wheel == "" {
		return "", "", fmt.Errorf("no wheel built in %s", distDir)
	}
	if sdist == "" {
		return "", "", fmt.Errorf("no source distribution built in %s", distDir)
	}
	return wheel, sdist, nil
}
