// Package header implements a 4-byte ASCII tag filter that hands off to a
// tag-specific body filter, demonstrating the filter chain's context
// handoff: the tag is copied into the chain's opaque context so the body
// filter (or anything further down the chain) can recover which route
// produced it without re-parsing the tag itself.
package header

import (
	"fmt"

	"github.com/duplexproto/channel/filter"
)

// Context is the value SetContext/Context carry across a handoff from
// Filter to the body filter it selected.
type Context struct {
	Tag string
}

// Route maps a 4-byte tag to a constructor for the filter that parses the
// tagged body.
type Route[P any] struct {
	Tag  string
	Next func() filter.Filter[P]
}

// Filter reads a 4-byte ASCII tag and hands off to the matching route's
// filter. It never produces a package itself.
type Filter[P any] struct {
	filter.Base[P]
	routes map[string]func() filter.Filter[P]
}

// New returns a tag-routing filter. Tags must be exactly 4 bytes.
func New[P any](routes []Route[P]) *Filter[P] {
	m := make(map[string]func() filter.Filter[P], len(routes))
	for _, rt := range routes {
		if len(rt.Tag) != 4 {
			panic(fmt.Sprintf("header: route tag %q is not 4 bytes", rt.Tag))
		}
		m[rt.Tag] = rt.Next
	}
	return &Filter[P]{routes: m}
}

// An unrecognized tag never hands off and never produces a package,
// stalling the chain; callers that need stricter behavior should validate
// tags before the bytes reach the channel.
func (f *Filter[P]) Filter(r *filter.SeqReader) (pkg P, ok bool) {
	if r.Len() < 4 {
		return pkg, false
	}
	tag := string(r.Peek(4))
	next, known := f.routes[tag]
	if !known {
		return pkg, false
	}
	r.Advance(4)

	f.SetContext(Context{Tag: tag})
	f.SetNext(next())
	return pkg, false
}
