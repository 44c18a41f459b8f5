package archiver

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"nriva-archiver/lib/scrapers/nriva/profile"
)

// Archive is the on-disk layout of one scraping run:
//
//	<root>/profiles/<id>/profile.html
//	<root>/profiles/<id>/profile_data.json
//	<root>/profiles/<id>/images/image_<n>.<ext>
//	<root>/profiles/<id>/horoscope_<name>.pdf
//	<root>/data/  (outcome db, run report)
type Archive struct {
	Root string
}

func NewArchive(root string) (Archive, error) {
	a := Archive{Root: root}
	for _, dir := range []string{
		root,
		a.profilesDir(),
		a.DataDir(),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Archive{}, err
		}
	}
	return a, nil
}

func (a Archive) profilesDir() string { return filepath.Join(a.Root, "profiles") }
func (a Archive) DataDir() string     { return filepath.Join(a.Root, "data") }

func (a Archive) ProfileDir(id string) string {
	return filepath.Join(a.profilesDir(), sanitize(id))
}

func (a Archive) WriteRecord(rec profile.Record) error {
	dir := a.ProfileDir(rec.Id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	if len(rec.Raw) > 0 {
		if err := os.WriteFile(filepath.Join(dir, "profile.html"), rec.Raw, 0o644); err != nil {
			return err
		}
	}

	contents, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "profile_data.json"), contents, 0o644)
}

func (a Archive) WriteImage(id string, index int, ref string, data []byte) (string, error) {
	dir := filepath.Join(a.ProfileDir(id), "images")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	ext := refExt(ref)
	if ext == "" {
		ext = ".jpg"
	}
	path := filepath.Join(dir, fmt.Sprintf("image_%d%s", index, ext))
	return path, os.WriteFile(path, data, 0o644)
}

func (a Archive) WriteHoroscope(id string, ref string, data []byte) (string, error) {
	dir := a.ProfileDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := refName(ref)
	if name == "" {
		name = "horoscope"
	}
	if !strings.HasSuffix(name, ".pdf") {
		name += ".pdf"
	}
	path := filepath.Join(dir, "horoscope_"+sanitize(name))
	return path, os.WriteFile(path, data, 0o644)
}

// RenameProfileDirs re-keys every profile directory by the profile id
// recorded inside it. Directories whose saved record carries a different
// id than their name (an artifact of earlier runs keyed by member id)
// are renamed; collisions are left alone and reported.
func (a Archive) RenameProfileDirs() (renamed int, skipped []string, err error) {
	entries, err := os.ReadDir(a.profilesDir())
	if err != nil {
		return 0, nil, err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(a.profilesDir(), entry.Name())
		contents, err := os.ReadFile(filepath.Join(dir, "profile_data.json"))
		if err != nil {
			skipped = append(skipped, fmt.Sprintf("%s: no profile_data.json", entry.Name()))
			continue
		}
		var rec profile.Record
		if err := json.Unmarshal(contents, &rec); err != nil || rec.Id == "" {
			skipped = append(skipped, fmt.Sprintf("%s: unreadable record", entry.Name()))
			continue
		}
		if sanitize(rec.Id) == entry.Name() {
			continue
		}
		target := a.ProfileDir(rec.Id)
		if _, err := os.Stat(target); err == nil {
			skipped = append(skipped, fmt.Sprintf("%s: target %s already exists", entry.Name(), rec.Id))
			continue
		}
		if err := os.Rename(dir, target); err != nil {
			return renamed, skipped, err
		}
		renamed++
	}
	return renamed, skipped, nil
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}

func refExt(ref string) string {
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return filepath.Ext(parsed.Path)
}

func refName(ref string) string {
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return filepath.Base(parsed.Path)
}
