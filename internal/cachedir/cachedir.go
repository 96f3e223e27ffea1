// Package cachedir implements CacheDir (§4.H): a host-filesystem
// passthrough rooted at a configured directory, backing every UserFile
// with kind CacheBacked. There is no direct teacher analogue for a
// generic passthrough root; the mkdir/stat/pread/pwrite conventions
// here follow the plain os package idioms the teacher already uses
// throughout database/main.go and stream/cache.go for host file access.
package cachedir

import (
	"io/fs"
	"os"
	"path/filepath"

	"smfs/internal/smfserr"
)

// CacheDir maps virtual paths to files under Root on the host
// filesystem.
type CacheDir struct {
	Root string
}

// New builds a CacheDir rooted at root, creating it if necessary.
func New(root string) (*CacheDir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil && !os.IsExist(err) {
		return nil, smfserr.New("cachedir.new", root, smfserr.KindIo, err)
	}
	return &CacheDir{Root: root}, nil
}

// HostPath maps a normalized virtual path to its host-filesystem
// location under Root.
func (c *CacheDir) HostPath(virtualPath string) string {
	return filepath.Join(c.Root, filepath.FromSlash(virtualPath))
}

// Stat stats the host file backing virtualPath, if any.
func (c *CacheDir) Stat(virtualPath string) (fs.FileInfo, error) {
	info, err := os.Stat(c.HostPath(virtualPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, smfserr.New("cachedir.stat", virtualPath, smfserr.KindNotFound, err)
		}
		return nil, smfserr.New("cachedir.stat", virtualPath, smfserr.KindIo, err)
	}
	return info, nil
}

// MkdirAll ensures the directory chain for virtualPath exists, mode
// 0755, tolerating EEXIST.
func (c *CacheDir) MkdirAll(virtualPath string) error {
	if err := os.MkdirAll(c.HostPath(virtualPath), 0o755); err != nil && !os.IsExist(err) {
		return smfserr.New("cachedir.mkdirall", virtualPath, smfserr.KindIo, err)
	}
	return nil
}

// Create creates virtualPath exclusively with the given mode (from the
// kernel mknod request), also creating any parent directories.
func (c *CacheDir) Create(virtualPath string, mode os.FileMode) (*os.File, error) {
	hostPath := c.HostPath(virtualPath)
	if err := os.MkdirAll(filepath.Dir(hostPath), 0o755); err != nil && !os.IsExist(err) {
		return nil, smfserr.New("cachedir.create", virtualPath, smfserr.KindIo, err)
	}

	f, err := os.OpenFile(hostPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, mode)
	if err != nil {
		if os.IsExist(err) {
			return nil, smfserr.New("cachedir.create", virtualPath, smfserr.KindExists, err)
		}
		return nil, smfserr.New("cachedir.create", virtualPath, smfserr.KindIo, err)
	}
	return f, nil
}

// ReadAt reads size bytes at offset from virtualPath's backing file.
func (c *CacheDir) ReadAt(virtualPath string, buf []byte, offset int64) (int, error) {
	f, err := os.Open(c.HostPath(virtualPath))
	if err != nil {
		return 0, smfserr.New("cachedir.read", virtualPath, smfserr.KindIo, err)
	}
	defer f.Close()

	n, err := f.ReadAt(buf, offset)
	if err != nil && n == 0 {
		return 0, nil // EOF at/after end of file
	}
	return n, nil
}

// WriteAt writes buf at offset into virtualPath's backing file, creating
// it with mode 0644 if it doesn't exist yet.
func (c *CacheDir) WriteAt(virtualPath string, buf []byte, offset int64) (int, error) {
	hostPath := c.HostPath(virtualPath)
	if err := os.MkdirAll(filepath.Dir(hostPath), 0o755); err != nil && !os.IsExist(err) {
		return 0, smfserr.New("cachedir.write", virtualPath, smfserr.KindIo, err)
	}

	f, err := os.OpenFile(hostPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return 0, smfserr.New("cachedir.write", virtualPath, smfserr.KindIo, err)
	}
	defer f.Close()

	n, err := f.WriteAt(buf, offset)
	if err != nil {
		return n, smfserr.New("cachedir.write", virtualPath, smfserr.KindIo, err)
	}
	return n, nil
}

// Chmod/Chown apply setattr changes to the backing file.
func (c *CacheDir) Chmod(virtualPath string, mode os.FileMode) error {
	if err := os.Chmod(c.HostPath(virtualPath), mode); err != nil {
		return smfserr.New("cachedir.chmod", virtualPath, smfserr.KindIo, err)
	}
	return nil
}

func (c *CacheDir) Chown(virtualPath string, uid, gid int) error {
	if err := os.Chown(c.HostPath(virtualPath), uid, gid); err != nil {
		return smfserr.New("cachedir.chown", virtualPath, smfserr.KindIo, err)
	}
	return nil
}
