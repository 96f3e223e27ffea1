// Package catalog implements the path-to-node map at the heart of SMFS:
// VirtualNode (§3) and Catalog (§4.D). It generalizes the teacher's
// vfs/index.go Index type, which kept separate id-keyed maps for
// directories and files, into a single path-keyed map holding a tagged
// node variant, plus the bijective path<->inode maps the design
// requires for stable-across-rebuild inode assignment.
package catalog

import (
	"net/http"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"

	"smfs/internal/smfserr"
	"smfs/internal/streamsession"
)

// RootInode is the host filesystem's reserved root inode value.
const RootInode = 1

// Kind tags a VirtualNode's variant.
type Kind int

const (
	KindDirectory Kind = iota
	KindRemoteFile
	KindUserFile
)

// Backing tags how a UserFile's bytes are stored.
type Backing int

const (
	CacheBacked Backing = iota
	InMemoryBuffer
)

// VirtualNode is the tagged variant from the data model: a directory, a
// read-only remote-backed file, or a writable user-created file.
type VirtualNode struct {
	Kind Kind

	// RemoteFile fields.
	URL     string
	Session *streamsession.StreamSession

	// UserFile fields.
	Mode    uint32
	UID     uint32
	GID     uint32
	Backing Backing
	Data    []byte // InMemoryBuffer contents
	Size    int64  // authoritative size for CacheBacked/InMemoryBuffer
}

// SessionFactory builds a fresh StreamSession bound to url. Catalog
// calls it lazily on first open of a .ts RemoteFile.
type SessionFactory func(url string) *streamsession.StreamSession

// SnapshotEntry is one row of a fetched CatalogSnapshot after path
// derivation: an absolute path, its kind, and its URL if it carries one.
type SnapshotEntry struct {
	Path string
	Kind Kind
	URL  string
}

// Catalog holds the path -> VirtualNode map and the bijective
// path<->inode maps described in §3, guarded by a single RWMutex per
// the locking discipline in §5.
type Catalog struct {
	mu sync.RWMutex

	entries     map[string]*VirtualNode
	pathToInode map[string]uint64
	inodeToPath map[uint64]string
	nextInode   uint64

	enabledTypes map[string]bool
	cacheDir     string
	version      uint64

	newSession SessionFactory
	logger     *zap.SugaredLogger
}

// New builds an empty Catalog rooted with just "/" as a directory.
func New(cacheDir string, enabledTypes []string, newSession SessionFactory, logger *zap.SugaredLogger) *Catalog {
	c := &Catalog{
		entries:      map[string]*VirtualNode{"/": {Kind: KindDirectory}},
		pathToInode:  map[string]uint64{"/": RootInode},
		inodeToPath:  map[uint64]string{RootInode: "/"},
		nextInode:    RootInode + 1,
		enabledTypes: make(map[string]bool, len(enabledTypes)),
		cacheDir:     cacheDir,
		newSession:   newSession,
		logger:       logger,
	}
	for _, t := range enabledTypes {
		c.enabledTypes[t] = true
	}
	return c
}

// Version returns the current rebuild generation counter.
func (c *Catalog) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// NormalizePath joins parent and child (if child is non-empty) and
// applies the algorithm from §4.D: collapse repeated slashes, strip a
// trailing slash except on the root, and reject "." or ".." segments.
func NormalizePath(parent, child string) (string, error) {
	joined := parent
	if child != "" {
		joined = strings.TrimRight(parent, "/") + "/" + child
	}

	for strings.Contains(joined, "//") {
		joined = strings.ReplaceAll(joined, "//", "/")
	}

	if len(joined) > 1 && strings.HasSuffix(joined, "/") {
		joined = strings.TrimSuffix(joined, "/")
	}

	if joined == "" {
		joined = "/"
	}

	for _, seg := range strings.Split(joined, "/") {
		if seg == "." || seg == ".." {
			return "", smfserr.New("normalize_path", joined, smfserr.KindInvalid, nil)
		}
	}

	return joined, nil
}

// Lookup normalizes path and returns its inode and node if present.
func (c *Catalog) Lookup(p string) (uint64, *VirtualNode, bool) {
	norm, err := NormalizePath(p, "")
	if err != nil {
		return 0, nil, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	node, ok := c.entries[norm]
	if !ok {
		return 0, nil, false
	}
	return c.pathToInode[norm], node, true
}

// NodeByInode resolves an inode to its current node and path.
func (c *Catalog) NodeByInode(inode uint64) (string, *VirtualNode, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.inodeToPath[inode]
	if !ok {
		return "", nil, false
	}
	node, ok := c.entries[p]
	return p, node, ok
}

// PathOf returns the path bound to inode, if any.
func (c *Catalog) PathOf(inode uint64) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.inodeToPath[inode]
	return p, ok
}

// InodeOf allocates (if necessary) and returns the stable inode for
// path, which need not yet exist as an entry.
func (c *Catalog) InodeOf(p string) uint64 {
	norm, err := NormalizePath(p, "")
	if err != nil {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inodeOfLocked(norm)
}

func (c *Catalog) inodeOfLocked(norm string) uint64 {
	if ino, ok := c.pathToInode[norm]; ok {
		return ino
	}
	ino := c.nextInode
	c.nextInode++
	c.pathToInode[norm] = ino
	c.inodeToPath[ino] = norm
	return ino
}

// ChildEntry is one row of a directory listing.
type ChildEntry struct {
	Name string
	Kind Kind
	Mode uint32
}

// ChildrenOf returns the direct children of path, filtered per §4.D:
// non-directory children are included only if their extension is in
// enabledTypes; the root always lists all top-level entries.
func (c *Catalog) ChildrenOf(p string) ([]ChildEntry, bool) {
	norm, err := NormalizePath(p, "")
	if err != nil {
		return nil, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, ok := c.entries[norm]; !ok {
		return nil, false
	}

	prefix := norm
	if prefix != "/" {
		prefix += "/"
	}

	var out []ChildEntry
	for candidate, node := range c.entries {
		if candidate == norm || !strings.HasPrefix(candidate, prefix) {
			continue
		}
		rest := strings.TrimPrefix(candidate, prefix)
		if strings.Contains(rest, "/") {
			continue // not a direct child
		}

		if node.Kind != KindDirectory && norm != "/" && !c.enabledTypes[extensionOf(rest)] {
			continue
		}

		out = append(out, ChildEntry{Name: rest, Kind: node.Kind, Mode: attrMode(node)})
	}

	return out, true
}

func extensionOf(name string) string {
	ext := path.Ext(name)
	return strings.TrimPrefix(ext, ".")
}

func attrMode(n *VirtualNode) uint32 {
	switch n.Kind {
	case KindDirectory:
		return 0o755
	case KindRemoteFile:
		return 0o444
	default:
		return n.Mode
	}
}

// InsertDirectory ensures path exists as a directory, creating parent
// directories implied by it.
func (c *Catalog) InsertDirectory(p string) error {
	norm, err := NormalizePath(p, "")
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureDirLocked(norm)
	return nil
}

func (c *Catalog) ensureDirLocked(norm string) {
	if _, ok := c.entries[norm]; ok {
		return
	}
	if norm != "/" {
		parent := path.Dir(norm)
		c.ensureDirLocked(parent)
	}
	c.entries[norm] = &VirtualNode{Kind: KindDirectory}
	c.inodeOfLocked(norm)
}

// InsertRemoteFile creates or replaces a RemoteFile at path. If a
// RemoteFile already exists at the same path with the same URL, it is
// left untouched (session and inode preserved). With a different URL the
// new node replaces the old one, and the old session is then stopped and
// drained (outside the catalog lock) before InsertRemoteFile returns.
func (c *Catalog) InsertRemoteFile(p, url string) error {
	norm, err := NormalizePath(p, "")
	if err != nil {
		return err
	}

	c.mu.Lock()
	existing, ok := c.entries[norm]
	if ok && existing.Kind == KindRemoteFile && existing.URL == url {
		c.mu.Unlock()
		return nil
	}

	var toStop *streamsession.StreamSession
	if ok && existing.Kind == KindRemoteFile && existing.Session != nil {
		toStop = existing.Session
	}

	if norm != "/" {
		c.ensureDirLocked(path.Dir(norm))
	}
	c.entries[norm] = &VirtualNode{Kind: KindRemoteFile, URL: url}
	c.inodeOfLocked(norm)
	c.mu.Unlock()

	if toStop != nil {
		toStop.Stop()
	}

	return nil
}

// InsertUserFile creates a UserFile node at path with the given mode.
func (c *Catalog) InsertUserFile(p string, mode uint32, uid, gid uint32, backing Backing) error {
	norm, err := NormalizePath(p, "")
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[norm]; ok {
		return smfserr.New("insert_user_file", norm, smfserr.KindExists, nil)
	}

	if norm != "/" {
		c.ensureDirLocked(path.Dir(norm))
	}
	c.entries[norm] = &VirtualNode{Kind: KindUserFile, Mode: mode, UID: uid, GID: gid, Backing: backing}
	c.inodeOfLocked(norm)
	return nil
}

// Remove deletes path from the catalog, then stops and drains any
// RemoteFile session it had before returning. The inode mapping is left intact so a later
// re-insertion of the same path reuses it (per the stable-inode
// invariant), matching apply_snapshot's behavior.
func (c *Catalog) Remove(p string) error {
	norm, err := NormalizePath(p, "")
	if err != nil {
		return err
	}

	c.mu.Lock()
	node, ok := c.entries[norm]
	if !ok {
		c.mu.Unlock()
		return smfserr.New("remove", norm, smfserr.KindNotFound, nil)
	}
	delete(c.entries, norm)
	var toStop *streamsession.StreamSession
	if node.Kind == KindRemoteFile {
		toStop = node.Session
	}
	c.mu.Unlock()

	if toStop != nil {
		toStop.Stop()
	}
	return nil
}

// EnsureSession returns the RemoteFile's session, lazily creating it via
// the catalog's SessionFactory on first call. Only valid for .ts opens.
func (c *Catalog) EnsureSession(inode uint64) (*streamsession.StreamSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.inodeToPath[inode]
	if !ok {
		return nil, smfserr.New("ensure_session", "", smfserr.KindNotFound, nil)
	}
	node, ok := c.entries[p]
	if !ok || node.Kind != KindRemoteFile {
		return nil, smfserr.New("ensure_session", p, smfserr.KindInvalid, nil)
	}

	if node.Session == nil {
		node.Session = c.newSession(node.URL)
	}
	return node.Session, nil
}

// ApplySnapshot performs the atomic rebuild from §4.D: directories
// implied by file paths are auto-created, user files are preserved,
// remote files with an unchanged URL keep their inode and session,
// remote files with a changed URL are replaced (old session
// stopped+drained), and paths no longer present are removed.
func (c *Catalog) ApplySnapshot(entries []SnapshotEntry) {
	c.mu.Lock()

	next := map[string]*VirtualNode{"/": {Kind: KindDirectory}}
	seen := map[string]bool{"/": true}

	ensureDir := func(p string) {
		for p != "/" && !seen[p] {
			next[p] = &VirtualNode{Kind: KindDirectory}
			seen[p] = true
			c.inodeOfLocked(p)
			p = path.Dir(p)
		}
	}

	var toStop []*streamsession.StreamSession

	for _, e := range entries {
		norm, err := NormalizePath(e.Path, "")
		if err != nil {
			continue
		}

		if norm != "/" {
			ensureDir(path.Dir(norm))
		}

		switch e.Kind {
		case KindDirectory:
			next[norm] = &VirtualNode{Kind: KindDirectory}
		case KindRemoteFile:
			if old, ok := c.entries[norm]; ok && old.Kind == KindRemoteFile && old.URL == e.URL {
				next[norm] = old
			} else {
				if ok && old.Kind == KindRemoteFile && old.Session != nil {
					toStop = append(toStop, old.Session)
				}
				next[norm] = &VirtualNode{Kind: KindRemoteFile, URL: e.URL}
			}
		case KindUserFile:
			if old, ok := c.entries[norm]; ok && old.Kind == KindUserFile {
				next[norm] = old
				break
			}
			next[norm] = &VirtualNode{Kind: KindUserFile}
		}
		seen[norm] = true
		c.inodeOfLocked(norm)
	}

	// Preserve any user files the snapshot did not mention.
	for p, node := range c.entries {
		if node.Kind == KindUserFile && !seen[p] {
			next[p] = node
			seen[p] = true
		}
	}

	// Anything not carried forward and not a directory implied above is
	// gone; stop its session if it had one.
	for p, node := range c.entries {
		if seen[p] {
			continue
		}
		if node.Kind == KindRemoteFile && node.Session != nil {
			toStop = append(toStop, node.Session)
		}
	}

	c.entries = next
	c.version++
	c.mu.Unlock()

	for _, s := range toStop {
		s.Stop()
	}
}

// CacheDir returns the configured cache-directory root.
func (c *Catalog) CacheDir() string {
	return c.cacheDir
}

// SessionStats reports the number of RemoteFile nodes with a live
// session and the sum of their reader counts, sampled by
// metrics.Registry's periodic gauge updater.
func (c *Catalog) SessionStats() (sessions, readers int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, n := range c.entries {
		if n.Kind == KindRemoteFile && n.Session != nil && !n.Session.IsStopped() {
			sessions++
			readers += n.Session.Readers()
		}
	}
	return sessions, readers
}

// StopAllSessions stops and drains every live StreamSession in the
// catalog, used by the shutdown coordinator to guarantee no producer
// goroutine outlives the FUSE unmount.
func (c *Catalog) StopAllSessions() {
	c.mu.RLock()
	sessions := make([]*streamsession.StreamSession, 0, len(c.entries))
	for _, n := range c.entries {
		if n.Kind == KindRemoteFile && n.Session != nil {
			sessions = append(sessions, n.Session)
		}
	}
	c.mu.RUnlock()

	for _, s := range sessions {
		s.Stop()
	}
}

// ReadMemFile copies bytes from an InMemoryBuffer UserFile's data at
// offset into buf.
func (c *Catalog) ReadMemFile(inode uint64, buf []byte, offset int64) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.inodeToPath[inode]
	if !ok {
		return 0, smfserr.New("read", "", smfserr.KindNotFound, nil)
	}
	node, ok := c.entries[p]
	if !ok || node.Kind != KindUserFile {
		return 0, smfserr.New("read", p, smfserr.KindInvalid, nil)
	}

	if offset >= int64(len(node.Data)) {
		return 0, nil
	}
	return copy(buf, node.Data[offset:]), nil
}

// WriteMemFile grows an InMemoryBuffer UserFile's data as necessary and
// copies buf into it at offset.
func (c *Catalog) WriteMemFile(inode uint64, buf []byte, offset int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.inodeToPath[inode]
	if !ok {
		return 0, smfserr.New("write", "", smfserr.KindNotFound, nil)
	}
	node, ok := c.entries[p]
	if !ok || node.Kind != KindUserFile {
		return 0, smfserr.New("write", p, smfserr.KindInvalid, nil)
	}

	end := offset + int64(len(buf))
	if end > int64(len(node.Data)) {
		grown := make([]byte, end)
		copy(grown, node.Data)
		node.Data = grown
	}
	n := copy(node.Data[offset:], buf)
	if end > node.Size {
		node.Size = end
	}
	return n, nil
}

// SetAttr applies mode/uid/gid changes (whichever the mask selects) to a
// UserFile node and returns whether the node was found.
func (c *Catalog) SetAttr(inode uint64, mode *uint32, uid, gid *uint32) (*VirtualNode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.inodeToPath[inode]
	if !ok {
		return nil, false
	}
	node, ok := c.entries[p]
	if !ok {
		return nil, false
	}

	if node.Kind == KindUserFile {
		if mode != nil {
			node.Mode = *mode
		}
		if uid != nil {
			node.UID = *uid
		}
		if gid != nil {
			node.GID = *gid
		}
	}

	return node, true
}

// NewHTTPSessionFactory returns a SessionFactory using client and logger
// for every session it creates, wired to shuttingDown for the
// shutdown-rejects-new-sessions rule (§4.G).
func NewHTTPSessionFactory(client *http.Client, logger *zap.SugaredLogger, shuttingDown streamsession.ShuttingDown) SessionFactory {
	return func(url string) *streamsession.StreamSession {
		return streamsession.New(url, client, logger, shuttingDown)
	}
}
