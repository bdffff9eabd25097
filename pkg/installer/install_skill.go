package installer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/agpm-dev/agpm/pkg/agpmlock"
	"github.com/agpm-dev/agpm/pkg/agpmmanifest"
	agpmerrors "github.com/agpm-dev/agpm/pkg/errors"
)

// maxSkillFileBytes bounds any single file copied as part of a skill,
// guarding against a misconfigured source accidentally vendoring huge
// binary assets into a skill directory.
const maxSkillFileBytes = 50 * 1024 * 1024

// installSkill runs the dedicated skill pipeline (spec.md §4.8): the
// destination is a directory, any prior install of it is removed, the
// whole worktree subtree is copied, patches apply only to the copied
// SKILL.md, and the checksum covers the directory as installed.
func (in *Installer) installSkill(ctx context.Context, locked agpmlock.LockedResource, destDir string) Result {
	src, ok := in.Sources.GetSource(locked.Source)
	if !ok {
		return Result{Err: agpmerrors.Resolution(fmt.Errorf("source %q is not defined", locked.Source), "installing skill")}
	}

	worktree, err := in.Cache.GetOrCreateWorktreeForSHA(ctx, src.URL, locked.SHA)
	if err != nil {
		return Result{Err: err}
	}

	srcDir := filepath.Join(worktree, locked.Path)
	info, err := os.Stat(srcDir)
	if err != nil || !info.IsDir() {
		return Result{Err: agpmerrors.Resource(fmt.Errorf("skill path %q is not a directory", locked.Path), "validating skill")}
	}
	skillMDPath := filepath.Join(srcDir, "SKILL.md")
	skillMD, err := os.ReadFile(skillMDPath)
	if err != nil {
		return Result{Err: agpmerrors.Resource(fmt.Errorf("skill %q is missing SKILL.md", locked.Name), "validating skill")}
	}

	patches, err := in.Sources.PatchesFor(agpmmanifest.KindSkill, locked.Name, "SKILL.md")
	if err != nil {
		return Result{Err: err}
	}
	patchedSkillMD, appliedPatches, err := applyPatches(skillMD, "SKILL.md", patches)
	if err != nil {
		return Result{Err: err}
	}

	if !locked.ShouldInstall() {
		checksum, err := directoryChecksumWithOverride(srcDir, map[string][]byte{"SKILL.md": patchedSkillMD})
		if err != nil {
			return Result{Err: err}
		}
		return Result{Installed: false, Checksum: checksum, AppliedPatches: appliedPatches}
	}

	if err := os.RemoveAll(destDir); err != nil {
		return Result{Err: agpmerrors.Filesystem(err, "removing previous skill install")}
	}
	if err := copyDir(srcDir, destDir); err != nil {
		return Result{Err: err}
	}
	if err := os.WriteFile(filepath.Join(destDir, "SKILL.md"), patchedSkillMD, 0o644); err != nil {
		return Result{Err: agpmerrors.Filesystem(err, "writing patched SKILL.md")}
	}

	checksum, err := directoryChecksum(destDir)
	if err != nil {
		return Result{Err: err}
	}

	if err := AddPathToGitignore(in.ProjectDir, relOrAbs(in.ProjectDir, destDir)); err != nil {
		return Result{Err: err}
	}

	return Result{Installed: true, Checksum: checksum, AppliedPatches: appliedPatches}
}

// copyDir recursively copies src to dst, rejecting any file over
// maxSkillFileBytes.
func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(src, path)
		if relErr != nil {
			return relErr
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if info.Size() > maxSkillFileBytes {
			return agpmerrors.Resource(fmt.Errorf("skill file %q exceeds %d bytes", rel, maxSkillFileBytes), "copying skill")
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return agpmerrors.Filesystem(err, "opening skill source file")
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return agpmerrors.Filesystem(err, "creating skill destination directory")
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return agpmerrors.Filesystem(err, "creating skill destination file")
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return agpmerrors.Filesystem(err, "copying skill file")
	}
	return nil
}

// directoryChecksum hashes the sorted list of (relative path, content
// hash) pairs under dir, so the checksum is stable regardless of
// filesystem directory-entry ordering and changes if any file's
// content, name, or presence changes.
func directoryChecksum(dir string) (string, error) {
	type entry struct {
		path string
		sum  [32]byte
	}
	var entries []entry

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return readErr
		}
		entries = append(entries, entry{path: filepath.ToSlash(rel), sum: sha256.Sum256(data)})
		return nil
	})
	if err != nil {
		return "", agpmerrors.Filesystem(err, "checksumming skill directory")
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })

	h := sha256.New()
	for _, e := range entries {
		h.Write([]byte(e.path))
		h.Write(e.sum[:])
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// directoryChecksumWithOverride computes the same checksum as
// directoryChecksum would over dir, substituting overrides[relPath] for
// that file's on-disk content, used to account for a patched file
// without writing it to disk (install:false skills).
func directoryChecksumWithOverride(dir string, overrides map[string][]byte) (string, error) {
	type entry struct {
		path string
		sum  [32]byte
	}
	var entries []entry

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		data, ok := overrides[rel]
		if !ok {
			data, err = os.ReadFile(path)
			if err != nil {
				return err
			}
		}
		entries = append(entries, entry{path: rel, sum: sha256.Sum256(data)})
		return nil
	})
	if err != nil {
		return "", agpmerrors.Filesystem(err, "checksumming skill directory")
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })

	h := sha256.New()
	for _, e := range entries {
		h.Write([]byte(e.path))
		h.Write(e.sum[:])
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
