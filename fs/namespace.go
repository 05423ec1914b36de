package fs

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/osstudy/nanos/merge"
	"github.com/osstudy/nanos/tuple"
)

// children returns the directory map of t, or nil if t is not a directory.
func children(t *tuple.Tuple) *tuple.Tuple {
	return t.Child(symChildren)
}

func split(path string) []tuple.Symbol {
	var syms []tuple.Symbol
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			syms = append(syms, tuple.Symbol(s))
		}
	}
	return syms
}

func isDot(a tuple.Symbol) bool {
	return a == symDot || a == symDotDot
}

func (fs *Filesystem) start(cwd *tuple.Tuple, path string) *tuple.Tuple {
	if cwd == nil || strings.HasPrefix(path, "/") {
		return fs.root
	}
	return cwd
}

// step moves from directory n to its entry a.
func step(n *tuple.Tuple, a tuple.Symbol) (*tuple.Tuple, error) {
	c := children(n)
	if c == nil {
		return nil, ErrNotDir
	}
	v := c.Lookup(a)
	if v == nil {
		return nil, ErrNotFound
	}
	next, ok := v.(*tuple.Tuple)
	if !ok || children(next) == nil {
		return nil, ErrNotDir
	}
	return next, nil
}

// resolve walks path from cwd (the root if nil, or if path is absolute) to
// the directory holding its last component. child is nil when that entry
// does not exist.
func (fs *Filesystem) resolve(cwd *tuple.Tuple, path string) (parent *tuple.Tuple, name tuple.Symbol, child *tuple.Tuple, err error) {
	syms := split(path)
	if len(syms) == 0 {
		return nil, "", nil, fmt.Errorf("resolve %q: %w", path, ErrInvalid)
	}
	n := fs.start(cwd, path)
	for _, a := range syms[:len(syms)-1] {
		if n, err = step(n, a); err != nil {
			return nil, "", nil, fmt.Errorf("resolve %q at %s: %w", path, a, err)
		}
	}
	c := children(n)
	if c == nil {
		return nil, "", nil, fmt.Errorf("resolve %q: %w", path, ErrNotDir)
	}
	name = syms[len(syms)-1]
	child = c.Child(name)
	if child == nil && c.Lookup(name) != nil {
		return nil, "", nil, fmt.Errorf("resolve %q: %w", path, ErrInvalid)
	}
	return n, name, child, nil
}

// Lookup returns the node at path. An empty path names the starting
// directory.
func (fs *Filesystem) Lookup(cwd *tuple.Tuple, path string) (*tuple.Tuple, error) {
	if len(split(path)) == 0 {
		return fs.start(cwd, path), nil
	}
	_, _, child, err := fs.resolve(cwd, path)
	if err != nil {
		return nil, err
	}
	if child == nil {
		return nil, fmt.Errorf("lookup %q: %w", path, ErrNotFound)
	}
	return child, nil
}

// Mkentry links entry at path. recursive creates missing intermediate
// directories. k runs once the new entries are durable; a non-persistent
// entry lives only in memory and k runs at once. Entries whose flush fails
// stay in memory, staged for the next flush.
func (fs *Filesystem) Mkentry(cwd *tuple.Tuple, path string, entry *tuple.Tuple, persistent bool, recursive bool, k func(error)) {
	m := merge.Begin(k)
	err := fs.mkentry(cwd, path, entry, persistent, recursive, m)
	if persistent {
		fs.log.Flush(nil)
	}
	m.Release(err)
}

func (fs *Filesystem) mkentry(cwd *tuple.Tuple, path string, entry *tuple.Tuple, persistent bool, recursive bool, m *merge.Merge) error {
	syms := split(path)
	if len(syms) == 0 {
		return fmt.Errorf("mkentry %q: %w", path, ErrInvalid)
	}
	n := fs.start(cwd, path)
	for _, a := range syms[:len(syms)-1] {
		next, err := step(n, a)
		if err == ErrNotFound && recursive {
			next = mkDir()
			err = fs.link(n, a, next, persistent, m)
		}
		if err != nil {
			return fmt.Errorf("mkentry %q at %s: %w", path, a, err)
		}
		n = next
	}
	name := syms[len(syms)-1]
	c := children(n)
	if c == nil {
		return fmt.Errorf("mkentry %q: %w", path, ErrNotDir)
	}
	if isDot(name) || c.Lookup(name) != nil {
		return fmt.Errorf("mkentry %q: %w", path, ErrExist)
	}
	if err := fs.link(n, name, entry, persistent, m); err != nil {
		return fmt.Errorf("mkentry %q: %w", path, err)
	}
	return nil
}

// link puts entry in parent as name and, when persistent, stages the
// record with a branch of m.
func (fs *Filesystem) link(parent *tuple.Tuple, name tuple.Symbol, entry *tuple.Tuple, persistent bool, m *merge.Merge) error {
	c := children(parent)
	cleanupDirectory(entry)
	c.Put(name, entry)
	if persistent {
		if err := fs.log.Append(c, name, entry, m.Branch()); err != nil {
			c.Put(name, nil)
			return err
		}
	}
	fixupDirectory(parent, entry)
	return nil
}

func mkDir() *tuple.Tuple {
	d := tuple.MkTuple()
	d.Put(symChildren, tuple.MkTuple())
	return d
}

func mkFileMeta() *tuple.Tuple {
	md := tuple.MkTuple()
	md.Put(symExtents, tuple.MkTuple())
	md.Put(symFileLength, tuple.U64(0))
	return md
}

// Mkdir creates an empty directory at path and calls k with it.
func (fs *Filesystem) Mkdir(cwd *tuple.Tuple, path string, persistent bool, k func(*tuple.Tuple, error)) {
	d := mkDir()
	fs.Mkentry(cwd, path, d, persistent, false, func(err error) {
		if err != nil {
			k(nil, err)
			return
		}
		k(d, nil)
	})
}

// Creat creates an empty file at path and calls k with it open. The file
// is open as soon as it is linked, even if its flush then fails.
func (fs *Filesystem) Creat(cwd *tuple.Tuple, path string, persistent bool, k func(*File, error)) {
	md := mkFileMeta()
	m := merge.Begin(func(err error) {
		if err != nil {
			k(nil, err)
			return
		}
		k(fs.files[md], nil)
	})
	err := fs.mkentry(cwd, path, md, persistent, false, m)
	if err == nil {
		fs.files[md] = fs.mkFile(md)
	}
	if persistent {
		fs.log.Flush(nil)
	}
	m.Release(err)
}

// Delete unlinks the entry at path. Once that is durable the files below
// it are closed and their storage freed.
func (fs *Filesystem) Delete(cwd *tuple.Tuple, path string, k func(error)) {
	parent, name, child, err := fs.resolve(cwd, path)
	if err != nil {
		k(err)
		return
	}
	if child == nil {
		k(fmt.Errorf("delete %q: %w", path, ErrNotFound))
		return
	}
	if isDot(name) {
		k(fmt.Errorf("delete %q: %w", path, ErrInvalid))
		return
	}
	c := children(parent)
	c.Put(name, nil)
	cleanupDirectory(child)
	err = fs.log.Append(c, name, nil, func(err error) {
		if err == nil {
			fs.releaseTree(child)
		}
		k(err)
	})
	if err != nil {
		c.Put(name, child)
		fixupDirectory(parent, child)
		k(fmt.Errorf("delete %q: %w", path, err))
		return
	}
	fs.log.Flush(nil)
}

// releaseTree closes every file at or below t and frees its storage.
func (fs *Filesystem) releaseTree(t *tuple.Tuple) {
	if f := fs.files[t]; f != nil {
		f.release()
		delete(fs.files, t)
	}
	c := children(t)
	if c == nil {
		return
	}
	c.Iterate(func(a tuple.Symbol, v tuple.Value) bool {
		if n, ok := v.(*tuple.Tuple); ok && !isDot(a) {
			fs.releaseTree(n)
		}
		return true
	})
}

// isAncestor reports whether a is dir or one of dir's parents.
func (fs *Filesystem) isAncestor(a *tuple.Tuple, dir *tuple.Tuple) bool {
	for n := dir; ; {
		if n == a {
			return true
		}
		if n == fs.root {
			return false
		}
		c := children(n)
		if c == nil {
			return false
		}
		if n = c.Child(symDotDot); n == nil {
			return false
		}
	}
}

// Rename moves the entry at oldpath to newpath, replacing whatever was
// there. The unlink and the link are two records carried by the same
// flush.
func (fs *Filesystem) Rename(oldwd *tuple.Tuple, oldpath string, newwd *tuple.Tuple, newpath string, k func(error)) {
	op, on, oc, err := fs.resolve(oldwd, oldpath)
	if err == nil && oc == nil {
		err = ErrNotFound
	}
	if err != nil {
		k(fmt.Errorf("rename %q: %w", oldpath, err))
		return
	}
	np, nn, nc, err := fs.resolve(newwd, newpath)
	if err != nil {
		k(fmt.Errorf("rename to %q: %w", newpath, err))
		return
	}
	if isDot(on) || isDot(nn) || fs.isAncestor(oc, np) {
		k(fmt.Errorf("rename %q to %q: %w", oldpath, newpath, ErrInvalid))
		return
	}
	if oc == nc {
		k(nil)
		return
	}

	m := merge.Begin(func(err error) {
		if err == nil && nc != nil {
			fs.releaseTree(nc)
		}
		k(err)
	})
	oldc, newc := children(op), children(np)
	oldc.Put(on, nil)
	cleanupDirectory(oc)
	if err := fs.logSet(oldc, on, nil, m.Branch()); err != nil {
		oldc.Put(on, oc)
		fixupDirectory(op, oc)
		m.Release(err)
		return
	}
	newc.Put(nn, oc)
	if err := fs.logSet(newc, nn, oc, m.Branch()); err != nil {
		// put the entry back where it was, in the log as well
		newc.Put(nn, nc)
		oldc.Put(on, oc)
		fs.relog(oldc, on, oc, "rename")
		fixupDirectory(op, oc)
		fs.log.Flush(nil)
		m.Release(err)
		return
	}
	fixupDirectory(np, oc)
	fs.log.Flush(nil)
	m.Release(nil)
}

// Exchange swaps the entries at path1 and path2, both of which must exist.
func (fs *Filesystem) Exchange(wd1 *tuple.Tuple, path1 string, wd2 *tuple.Tuple, path2 string, k func(error)) {
	p1, n1, e1, err := fs.resolve(wd1, path1)
	if err == nil && e1 == nil {
		err = ErrNotFound
	}
	if err != nil {
		k(fmt.Errorf("exchange %q: %w", path1, err))
		return
	}
	p2, n2, e2, err := fs.resolve(wd2, path2)
	if err == nil && e2 == nil {
		err = ErrNotFound
	}
	if err != nil {
		k(fmt.Errorf("exchange %q: %w", path2, err))
		return
	}
	if isDot(n1) || isDot(n2) || fs.isAncestor(e1, p2) || fs.isAncestor(e2, p1) {
		k(fmt.Errorf("exchange %q and %q: %w", path1, path2, ErrInvalid))
		return
	}
	if e1 == e2 {
		k(nil)
		return
	}

	m := merge.Begin(k)
	c1, c2 := children(p1), children(p2)
	cleanupDirectory(e1)
	cleanupDirectory(e2)
	c1.Put(n1, e2)
	if err := fs.logSet(c1, n1, e2, m.Branch()); err != nil {
		c1.Put(n1, e1)
		fixupDirectory(p1, e1)
		fixupDirectory(p2, e2)
		m.Release(err)
		return
	}
	c2.Put(n2, e1)
	if err := fs.logSet(c2, n2, e1, m.Branch()); err != nil {
		c2.Put(n2, e2)
		c1.Put(n1, e1)
		fs.relog(c1, n1, e1, "exchange")
		fixupDirectory(p1, e1)
		fixupDirectory(p2, e2)
		fs.log.Flush(nil)
		m.Release(err)
		return
	}
	fixupDirectory(p1, e2)
	fixupDirectory(p2, e1)
	fs.log.Flush(nil)
	m.Release(nil)
}

// relog appends c.name = v again to undo a half-logged op. If the log
// rejects that as well, the log and memory disagree until the next change
// to c.name.
func (fs *Filesystem) relog(c *tuple.Tuple, name tuple.Symbol, v tuple.Value, op string) {
	if err := fs.log.Append(c, name, v, fs.ignore(op+" undo")); err != nil {
		fs.logger.Error("unable to log undo",
			slog.String("op", op),
			slog.String("name", string(name)),
			slog.String("error", err.Error()))
	}
}

// Graft merges the tree src into the root, in memory only.
func (fs *Filesystem) Graft(src *tuple.Tuple, k func(error)) {
	cleanupDirectory(src)
	tuple.TreeMerge(fs.root, src, func(err error) {
		fixupDirectory(fs.root, fs.root)
		k(err)
	})
}

// fixupDirectory adds the "." and ".." entries to dir and every directory
// below it. They are never logged.
func fixupDirectory(parent *tuple.Tuple, dir *tuple.Tuple) {
	c := children(dir)
	if c == nil {
		return
	}
	c.Put(symDot, dir)
	c.Put(symDotDot, parent)
	c.Iterate(func(a tuple.Symbol, v tuple.Value) bool {
		if n, ok := v.(*tuple.Tuple); ok && !isDot(a) {
			fixupDirectory(dir, n)
		}
		return true
	})
}

func cleanupDirectory(dir *tuple.Tuple) {
	c := children(dir)
	if c == nil {
		return
	}
	c.Put(symDot, nil)
	c.Put(symDotDot, nil)
	c.Iterate(func(a tuple.Symbol, v tuple.Value) bool {
		if n, ok := v.(*tuple.Tuple); ok {
			cleanupDirectory(n)
		}
		return true
	})
}
