package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestName is the filename the scanner looks for in each scanned
// directory to describe a user node type.
const ManifestName = "node.yaml"

// ErrPathNotAllowed is returned when a scan or load targets a directory
// outside the caller's allow-listed roots.
var ErrPathNotAllowed = errors.New("registry: path is not within an allow-listed directory")

// userManifest is the on-disk shape of a node.yaml file describing one
// user node type.
type userManifest struct {
	Type      string    `yaml:"type"`
	Class     string    `yaml:"class"`
	FilePath  string    `yaml:"file_path"`
	Interface Interface `yaml:"interface"`
}

// Scan walks each root directory (already validated to be within the
// caller's allow-list) looking for node.yaml manifests one level deep,
// and returns the resulting scanner entries. It never touches the
// registry itself — call UpdateFromScanner with the result.
func Scan(allowedRoots []string) ([]ScannerEntry, error) {
	var found []ScannerEntry
	for _, root := range allowedRoots {
		entries, err := scanRoot(root)
		if err != nil {
			return nil, err
		}
		found = append(found, entries...)
	}
	return found, nil
}

func scanRoot(root string) ([]ScannerEntry, error) {
	cleanRoot := filepath.Clean(root)
	info, err := os.Stat(cleanRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("registry: stat scan root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("registry: scan root %s is not a directory", root)
	}

	children, err := os.ReadDir(cleanRoot)
	if err != nil {
		return nil, fmt.Errorf("registry: read scan root %s: %w", root, err)
	}

	var found []ScannerEntry
	for _, child := range children {
		if !child.IsDir() {
			continue
		}
		manifestPath := filepath.Join(cleanRoot, child.Name(), ManifestName)
		entry, ok, err := loadUserManifest(manifestPath, cleanRoot)
		if err != nil {
			return nil, err
		}
		if ok {
			found = append(found, entry)
		}
	}
	return found, nil
}

func loadUserManifest(path, allowedRoot string) (ScannerEntry, bool, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path built from an allow-listed root
	if err != nil {
		if os.IsNotExist(err) {
			return ScannerEntry{}, false, nil
		}
		return ScannerEntry{}, false, fmt.Errorf("registry: read manifest %s: %w", path, err)
	}

	var m userManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return ScannerEntry{}, false, fmt.Errorf("registry: parse manifest %s: %w", path, err)
	}
	if m.Type == "" {
		return ScannerEntry{}, false, fmt.Errorf("registry: manifest %s missing type", path)
	}

	resolvedFilePath := m.FilePath
	if resolvedFilePath != "" {
		if !filepath.IsAbs(resolvedFilePath) {
			resolvedFilePath = filepath.Join(filepath.Dir(path), resolvedFilePath)
		}
		if err := requireWithin(allowedRoot, resolvedFilePath); err != nil {
			return ScannerEntry{}, false, err
		}
	}

	return ScannerEntry{
		Name: m.Type,
		Entry: Entry{
			Class:     m.Class,
			FilePath:  resolvedFilePath,
			Kind:      KindUser,
			Interface: m.Interface,
		},
	}, true, nil
}

// requireWithin returns ErrPathNotAllowed if target is not lexically
// contained within root. Used both by the scanner (for a manifest's
// file_path) and by any caller resolving a user-supplied node file at
// compile time (§4.5: "sandboxed").
func requireWithin(root, target string) error {
	cleanRoot := filepath.Clean(root)
	cleanTarget := filepath.Clean(target)
	rel, err := filepath.Rel(cleanRoot, cleanTarget)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrPathNotAllowed, target)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", ErrPathNotAllowed, target)
	}
	return nil
}

// RequireWithinAllowed reports an error unless path is lexically inside
// one of allowedRoots. Exported so the compiler can apply the same
// sandboxing rule when resolving a user node's file_path outside of a
// scan (e.g. an IR referencing a node file directly).
func RequireWithinAllowed(allowedRoots []string, path string) error {
	for _, root := range allowedRoots {
		if requireWithin(root, path) == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrPathNotAllowed, path)
}
