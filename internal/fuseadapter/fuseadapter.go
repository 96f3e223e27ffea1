// Package fuseadapter binds internal/fsops to github.com/anacrolix/fuse,
// the teacher's canonical FUSE library (the only one actually listed in
// its go.mod require block; the bazil.org/fuse and hanwen/go-fuse/v2
// variants elsewhere in the source tree are abandoned iterations). This
// is the single place an smfserr.Kind becomes a syscall.Errno,
// following the ToFuseError translation-boundary pattern from the
// retrieval pack's VMapFS (internal/fs/errors.go), and the single place
// fsops' abstract Attr/DirEntry/Handle types become fuse.Attr,
// fuse.Dirent, and fs.Handle.
package fuseadapter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/anacrolix/fuse"
	"github.com/anacrolix/fuse/fs"

	"smfs/internal/catalog"
	"smfs/internal/fsops"
	"smfs/internal/smfserr"
)

// ToErrno converts an smfserr.Kind into the POSIX errno FsHost expects,
// per §4.E/§7's kind-to-errno table.
func ToErrno(err error) error {
	if err == nil {
		return nil
	}

	switch smfserr.KindOf(err) {
	case smfserr.KindNotFound:
		return syscall.ENOENT
	case smfserr.KindNotDirectory:
		return syscall.ENOTDIR
	case smfserr.KindIsDirectory:
		return syscall.EISDIR
	case smfserr.KindExists:
		return syscall.EEXIST
	case smfserr.KindPermissionDenied:
		return syscall.EACCES
	case smfserr.KindOutOfMemory:
		return syscall.ENOMEM
	case smfserr.KindInvalid:
		return syscall.EINVAL
	case smfserr.KindNotSupported:
		return syscall.ENOTSUP
	case smfserr.KindShuttingDown:
		return syscall.EIO
	case smfserr.KindNetworkTransient, smfserr.KindNetworkFatal:
		return syscall.EIO
	case smfserr.KindIo:
		var e *smfserr.Error
		if errors.As(err, &e) {
			var errno syscall.Errno
			if errors.As(e.Err, &errno) {
				return errno
			}
		}
		return syscall.EIO
	default:
		return syscall.EIO
	}
}

// FS implements fs.FS, the FUSE library's filesystem entry point.
type FS struct {
	Ops *fsops.FsOps
}

var _ fs.FS = (*FS)(nil)

// Root returns the root Node, inode 1.
func (f *FS) Root() (fs.Node, error) {
	return &Node{ops: f.Ops, inode: catalog.RootInode}, nil
}

// Node is a lazily-attributed handle onto one catalog inode. A single
// type serves directories and files; ReadDirAll/Open behave according
// to what fsops reports at call time, matching the abstract-core
// separation the design mandates (fsops has no notion of "this node's
// kernel type", only of catalog.Kind).
type Node struct {
	ops   *fsops.FsOps
	inode uint64
}

var (
	_ fs.Node               = (*Node)(nil)
	_ fs.NodeRequestLookuper = (*Node)(nil)
	_ fs.HandleReadDirAller  = (*Node)(nil)
	_ fs.NodeOpener          = (*Node)(nil)
	_ fs.NodeSetattrer       = (*Node)(nil)
	_ fs.NodeMknoder         = (*Node)(nil)
	_ fs.NodeGetxattrer      = (*Node)(nil)
)

func attrKindToFileMode(kind catalog.Kind) os.FileMode {
	if kind == catalog.KindDirectory {
		return os.ModeDir
	}
	return 0
}

func applyAttr(dst *fuse.Attr, a fsops.Attr) {
	dst.Inode = a.Inode
	dst.Mode = attrKindToFileMode(a.Kind) | os.FileMode(a.Mode)
	dst.Nlink = a.Nlink
	dst.Size = uint64(a.Size)
	dst.Uid = a.UID
	dst.Gid = a.GID
}

// Attr fills fuse's attribute struct from fsops.GetAttr.
func (n *Node) Attr(ctx context.Context, attr *fuse.Attr) error {
	a, err := n.ops.GetAttr(n.inode)
	if err != nil {
		return ToErrno(err)
	}
	applyAttr(attr, a)
	return nil
}

// Lookup resolves one path component under this node.
func (n *Node) Lookup(ctx context.Context, req *fuse.LookupRequest, resp *fuse.LookupResponse) (fs.Node, error) {
	a, err := n.ops.Lookup(n.inode, req.Name)
	if err != nil {
		return nil, ToErrno(err)
	}
	applyAttr(&resp.Attr, a)
	resp.Node = fuse.NodeID(a.Inode)
	return &Node{ops: n.ops, inode: a.Inode}, nil
}

// ReadDirAll lists this node's children. FsOps.ReadDir already applies
// the offset>0-returns-empty rule for the single-shot listing this
// design accepts (§4.E readdir); fs.HandleReadDirAller only ever asks
// for the full listing once, so it always passes offset 0 here.
func (n *Node) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	entries, err := n.ops.ReadDir(n.inode, 0)
	if err != nil {
		return nil, ToErrno(err)
	}

	dirents := make([]fuse.Dirent, 0, len(entries))
	for _, e := range entries {
		t := fuse.DT_File
		if e.Kind == catalog.KindDirectory {
			t = fuse.DT_Dir
		}
		dirents = append(dirents, fuse.Dirent{Name: e.Name, Inode: e.Inode, Type: t})
	}
	return dirents, nil
}

// Handle wraps an fsops.Handle for fs.Handle/fs.HandleReader/
// fs.HandleWriter/fs.HandleReleaser.
type Handle struct {
	ops   *fsops.FsOps
	h     fsops.Handle
	isDir bool
	mu    sync.Mutex
}

var (
	_ fs.Handle        = (*Handle)(nil)
	_ fs.HandleReader  = (*Handle)(nil)
	_ fs.HandleWriter  = (*Handle)(nil)
	_ fs.HandleReleaser = (*Handle)(nil)
)

// Open starts (or joins) the backing stream/handle for this node. A
// directory routes to fsops.OpenDir instead of Open, since Open on a
// directory inode is defined to fail with IS_DIRECTORY (§4.E) — that
// rule targets FsHost callers resolving a path through the file-open
// path, not the FUSE library's own directory-open convention.
func (n *Node) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	attr, err := n.ops.GetAttr(n.inode)
	if err != nil {
		return nil, ToErrno(err)
	}

	var h fsops.Handle
	if attr.Kind == catalog.KindDirectory {
		h, err = n.ops.OpenDir(n.inode)
	} else {
		h, err = n.ops.Open(n.inode)
	}
	if err != nil {
		return nil, ToErrno(err)
	}
	return &Handle{ops: n.ops, h: h, isDir: attr.Kind == catalog.KindDirectory}, nil
}

// Read services one kernel read request against the open handle.
func (h *Handle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := h.ops.Read(h.h, req.Size, req.Offset)
	if err != nil {
		return ToErrno(err)
	}
	resp.Data = data
	return nil
}

// Write services one kernel write request against the open handle.
func (h *Handle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	n, err := h.ops.Write(h.h, req.Data, req.Offset)
	if err != nil {
		return ToErrno(err)
	}
	resp.Size = n
	return nil
}

// Release closes the handle, draining any backing session's reader
// count.
func (h *Handle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	if h.isDir {
		return ToErrno(h.ops.ReleaseDir(h.h))
	}
	if err := h.ops.Release(h.h); err != nil {
		return ToErrno(err)
	}
	return nil
}

// Setattr applies mode/uid/gid changes selected by req.Valid.
func (n *Node) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	var setReq fsops.SetAttrRequest

	if req.Valid.Mode() {
		mode := uint32(req.Mode.Perm())
		setReq.Mode = &mode
	}
	if req.Valid.Uid() {
		uid := req.Uid
		setReq.UID = &uid
	}
	if req.Valid.Gid() {
		gid := req.Gid
		setReq.GID = &gid
	}

	a, err := n.ops.SetAttr(n.inode, setReq)
	if err != nil {
		return ToErrno(err)
	}
	applyAttr(&resp.Attr, a)
	return nil
}

// Mknod creates a new user file under this directory node.
func (n *Node) Mknod(ctx context.Context, req *fuse.MknodRequest) (fs.Node, error) {
	a, err := n.ops.Mknod(n.inode, req.Name, uint32(req.Mode.Perm()))
	if err != nil {
		return nil, ToErrno(err)
	}
	return &Node{ops: n.ops, inode: a.Inode}, nil
}

// Getxattr always reports ENOTSUP (§4.E).
func (n *Node) Getxattr(ctx context.Context, req *fuse.GetxattrRequest, resp *fuse.GetxattrResponse) error {
	_, err := n.ops.GetXAttr(n.inode, req.Name)
	return ToErrno(err)
}

// Mount opens the anacrolix/fuse connection at mountPoint using the
// same mount options the teacher's fuse/service/main.go passes.
func Mount(mountPoint, volumeName string) (*fuse.Conn, error) {
	return fuse.Mount(
		mountPoint,
		fuse.VolumeName(volumeName),
		fuse.Subtype(volumeName),
		fuse.FSName(volumeName),
		fuse.LocalVolume(),
		fuse.AllowOther(),
		fuse.NoAppleDouble(),
		fuse.NoBrowse(),
	)
}

// Serve blocks running the FUSE request loop against conn.
func Serve(conn *fuse.Conn, filesystem *FS) error {
	return fs.Serve(conn, filesystem)
}

// Unmount retries fuse.Unmount against a "resource busy" kernel error,
// matching the teacher's filesystem/server/providers/fuse Server.unmount
// retry loop.
func Unmount(mountPoint string) error {
	var lastErr error

	for tries := 0; tries < 10; tries++ {
		lastErr = fuse.Unmount(mountPoint)
		if lastErr == nil {
			return nil
		}
		if strings.HasSuffix(lastErr.Error(), "resource busy") {
			time.Sleep(time.Second)
			continue
		}
		return lastErr
	}

	return fmt.Errorf("unmount %s: reached max retries: %w", mountPoint, lastErr)
}
