// Package procfiles implements the proc-file copier (§4.13): copies a
// fixed set of per-process and per-task files from /proc/<pid>/... into
// the output directory, preserving symlinks where appropriate.
package procfiles

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// fixedFiles is the exact fixed list from §4.13/§12, preserved verbatim
// from original_source's write_proc_info rather than made configurable.
var fixedFiles = []string{"cmdline", "environ", "io", "maps", "smaps", "stack", "stat", "statm"}

// fixedLinks are the entries copied as symlinks rather than regular
// files; fd/ is handled separately by copyFdDir.
var fixedLinks = []string{"cwd"}

// CopyAll copies every fixed file/link for pid into outDir/proc/<pid>/,
// then repeats the per-task variants under task/<tid>/ for every tid in
// tasks, including recreating the fd/ directory's symlinks.
func CopyAll(pid int, tasks []int, outDir string) error {
	procDir := filepath.Join(outDir, "proc", fmt.Sprintf("%d", pid))
	if err := copyProcessFiles(fmt.Sprintf("/proc/%d", pid), procDir); err != nil {
		return err
	}
	for _, tid := range tasks {
		taskSrc := fmt.Sprintf("/proc/%d/task/%d", pid, tid)
		taskDst := filepath.Join(procDir, "task", fmt.Sprintf("%d", tid))
		if err := copyProcessFiles(taskSrc, taskDst); err != nil {
			continue // per-task failure skipped, non-fatal
		}
	}
	return nil
}

func copyProcessFiles(srcDir, dstDir string) error {
	if err := os.MkdirAll(dstDir, 0o700); err != nil {
		return fmt.Errorf("procfiles: mkdir %s: %w", dstDir, err)
	}
	for _, name := range fixedFiles {
		if err := copyFile(filepath.Join(srcDir, name), filepath.Join(dstDir, name)); err != nil {
			continue // skipped, non-fatal: some files may not exist for this process
		}
	}
	for _, name := range fixedLinks {
		copyLink(filepath.Join(srcDir, name), filepath.Join(dstDir, name))
	}
	if err := copyFdDir(filepath.Join(srcDir, "fd"), filepath.Join(dstDir, "fd")); err != nil {
		// non-fatal
		_ = err
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func copyLink(src, dst string) error {
	target, err := os.Readlink(src)
	if err != nil {
		return err
	}
	os.Remove(dst)
	return os.Symlink(target, dst)
}

// copyFdDir expands the fd/ directory: each symlink inside is replicated
// (§4.13: "The fd/ directory is expanded: each symlink inside is
// replicated. Target directories are created 0700.").
func copyFdDir(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0o700); err != nil {
		return err
	}
	for _, e := range entries {
		copyLink(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name()))
	}
	return nil
}
