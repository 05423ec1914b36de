package tuple

import (
	"github.com/osstudy/nanos/merge"
)

// TreeMerge copies every attribute of src into dst. Where both sides hold a
// node under the same symbol the two are merged recursively; otherwise the
// source value replaces the destination's. k fires once every Set has
// completed.
func TreeMerge(dst Node, src Node, k func(error)) {
	m := merge.Begin(k)
	src.Iterate(func(a Symbol, v Value) bool {
		sn, ok := v.(Node)
		if !ok {
			dst.Set(a, v, m.Branch())
			return true
		}
		done := m.Branch()
		dst.Get(a, func(existing Value, err error) {
			if err != nil {
				done(err)
				return
			}
			if dn, ok := existing.(Node); ok {
				TreeMerge(dn, sn, done)
				return
			}
			dst.Set(a, v, done)
		})
		return true
	})
	m.Release(nil)
}
