package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// backupTimeFormat is the YYYYMMDDHHMMSS suffix of backup file names.
const backupTimeFormat = "20060102150405"

// ModifyRequest describes one modify_file call. LineNumber is 1-based;
// zero means not given.
type ModifyRequest struct {
	FilePath    string
	Description string
	NewCode     string
	OldCode     string
	LineNumber  int
}

// ModifyFile applies a change using the backup-confirm-apply protocol:
// the modification gate, path resolution, a backup copy taken before any
// mutation, the edit itself, optional confirmation, an atomic write and
// finally an audit record.
func (c *CodeTools) ModifyFile(ctx context.Context, req ModifyRequest) (string, error) {
	if !c.opts.AllowModifications {
		return "", ErrModificationsDisabled
	}

	path, err := c.resolveFile(req.FilePath)
	if err != nil {
		return "", err
	}
	if path, err = linkTarget(path); err != nil {
		return "", fmt.Errorf("resolve %s: %w", req.FilePath, err)
	}

	backup, err := c.backup(path)
	if err != nil {
		return "", fmt.Errorf("backup %s: %w", path, err)
	}
	c.logger.Debug("backup created", "file", path, "backup", backup)

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	updated, changeType, err := applyChange(string(data), req)
	if err != nil {
		return "", err
	}

	if c.opts.RequireConfirmation {
		ok, err := c.confirm(ctx, Proposal{
			FilePath:    path,
			Description: req.Description,
			ChangeType:  changeType,
			OldCode:     req.OldCode,
			NewCode:     req.NewCode,
		})
		if err != nil {
			return "", fmt.Errorf("confirmation: %w", err)
		}
		if !ok {
			c.logger.Info("modification declined", "file", path)
			return "", ErrConfirmationDeclined
		}
	}

	if err := writeAtomic(path, []byte(updated)); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	rec := c.changes.Add(ctx, ChangeRecord{
		Timestamp:   c.now(),
		FilePath:    path,
		Description: req.Description,
		BackupPath:  backup,
		ChangeType:  changeType,
	})
	c.logger.Info("file modified", "file", path, "type", changeType, "change_id", rec.ID)

	return fmt.Sprintf("SUCCESS: Modified %s\nBackup saved to: %s\nChange: %s", path, backup, req.Description), nil
}

func (c *CodeTools) confirm(ctx context.Context, p Proposal) (bool, error) {
	if c.opts.Confirmer == nil {
		return false, nil
	}
	return c.opts.Confirmer.Confirm(ctx, p)
}

func (c *CodeTools) now() time.Time {
	if c.clock != nil {
		return c.clock()
	}
	return time.Now()
}

// applyChange computes the new content by exactly one strategy: insert at
// a line, replace every occurrence of a literal, or append.
func applyChange(content string, req ModifyRequest) (string, string, error) {
	switch {
	case req.LineNumber > 0:
		lines := strings.SplitAfter(content, "\n")
		if lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
		if req.LineNumber > len(lines) {
			return appendCode(content, req.NewCode), ChangeAppend, nil
		}
		var b strings.Builder
		for i, line := range lines {
			if i == req.LineNumber-1 {
				b.WriteString(withNewline(req.NewCode))
			}
			b.WriteString(line)
		}
		return b.String(), ChangeInsert, nil

	case req.OldCode != "":
		if !strings.Contains(content, req.OldCode) {
			return "", "", fmt.Errorf("%w:\n%s", ErrCodeNotFound, req.OldCode)
		}
		return strings.ReplaceAll(content, req.OldCode, req.NewCode), ChangeReplace, nil

	default:
		return appendCode(content, req.NewCode), ChangeAppend, nil
	}
}

func appendCode(content, code string) string {
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content + withNewline(code)
}

func withNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

// backup copies path into the backup directory as
// <name>.backup_<YYYYMMDDHHMMSS>. A name already taken within the same
// second gets a numeric suffix so no earlier backup is overwritten.
func (c *CodeTools) backup(path string) (string, error) {
	if err := os.MkdirAll(c.opts.BackupDir, 0o755); err != nil {
		return "", err
	}

	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return "", err
	}

	base := filepath.Join(c.opts.BackupDir,
		fmt.Sprintf("%s.backup_%s", filepath.Base(path), c.now().Format(backupTimeFormat)))
	name := base
	var dst *os.File
	for n := 2; ; n++ {
		dst, err = os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return "", err
		}
		name = fmt.Sprintf("%s_%d", base, n)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(name)
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	_ = os.Chtimes(name, info.ModTime(), info.ModTime())
	return name, nil
}

// linkTarget returns the file a symlink points to, or path itself when
// it is not a link. Edits go to the target so the link survives the
// rename in writeAtomic.
func linkTarget(path string) (string, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return "", err
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return path, nil
	}
	return filepath.EvalSymlinks(path)
}

// writeAtomic replaces path with data via a temp file in the same
// directory and a rename, keeping the original file mode.
func writeAtomic(path string, data []byte) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, info.Mode().Perm()); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
