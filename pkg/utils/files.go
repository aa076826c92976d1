package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SourceExt is the extension of SL class files.
const SourceExt = ".jack"

func GetPathInfo(relPath string) (fullPath string, parentDir string, err error) {
	// Convert to absolute path (resolves ../../ and cleans the path)
	fullPath, err = filepath.Abs(relPath)
	if err != nil {
		return "", "", err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return "", "", err
	}
	if info.IsDir() {
		return fullPath, fullPath, nil
	}

	// Get the directory containing the file
	parentDir = filepath.Dir(fullPath)

	return fullPath, parentDir, nil
}

// ClassName returns the base name of path without its extension:
// "src/Main.jack" -> "Main".
func ClassName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// OutputName is the file name for one compiled artifact of path:
// OutputName("src/Main.jack", "T.xml") -> "MainT.xml".
func OutputName(path, suffix string) string {
	return ClassName(path) + suffix
}

// CollectSources returns the .jack files named by path. A file is returned
// as-is; a directory yields its direct .jack children in name order.
func CollectSources(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if filepath.Ext(path) != SourceExt {
			return nil, fmt.Errorf("%s: not a %s file", path, SourceExt)
		}
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != SourceExt {
			continue
		}
		files = append(files, filepath.Join(path, entry.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: no %s files", path, SourceExt)
	}
	sort.Strings(files)
	return files, nil
}
