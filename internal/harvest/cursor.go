// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package harvest

// PageDescriptor identifies one page of results. Offset-mode descriptors
// carry Offset and PageSize; token-mode descriptors carry Token (empty for
// the first page). A descriptor never carries both.
type PageDescriptor struct {
	Offset   int
	PageSize int
	Token    string
}

type cursorMode int

const (
	offsetMode cursorMode = iota
	tokenMode
)

// Cursor yields page descriptors for one job, unifying offset-based and
// token-based pagination (R4.3). A cursor commits to one mode for its
// lifetime. Exhaustion is terminal: once Next reports no more pages it
// reports so forever.
//
// Cursors are not safe for concurrent use; each is owned by the single
// worker executing its job.
type Cursor struct {
	mode      cursorMode
	offset    int
	limit     int // exclusive offset bound, 0 = unbounded
	pageSize  int
	token     string
	started   bool
	exhausted bool
}

// NewOffsetCursor returns a cursor that starts at offset 0 and advances by
// pageSize after each full page.
func NewOffsetCursor(pageSize int) *Cursor {
	return &Cursor{mode: offsetMode, pageSize: pageSize}
}

// NewOffsetRangeCursor returns an offset cursor over [start, end). Sources
// with a known total count can pre-compute ranges and fan pages out as
// independent jobs.
func NewOffsetRangeCursor(start, end, pageSize int) *Cursor {
	return &Cursor{mode: offsetMode, offset: start, limit: end, pageSize: pageSize}
}

// NewTokenCursor returns a cursor for token-chained pagination. The first
// descriptor carries no token; subsequent descriptors carry the token the
// extractor returned verbatim.
func NewTokenCursor() *Cursor {
	return &Cursor{mode: tokenMode}
}

// Next returns the descriptor for the page to fetch, or ok=false when the
// source is exhausted.
func (c *Cursor) Next() (PageDescriptor, bool) {
	if c.exhausted {
		return PageDescriptor{}, false
	}
	switch c.mode {
	case offsetMode:
		if c.limit > 0 && c.offset >= c.limit {
			c.exhausted = true
			return PageDescriptor{}, false
		}
		return PageDescriptor{Offset: c.offset, PageSize: c.pageSize}, true
	default:
		if c.started && c.token == "" {
			c.exhausted = true
			return PageDescriptor{}, false
		}
		return PageDescriptor{Token: c.token}, true
	}
}

// Advance folds a successful page into the cursor: count is the number of
// records the page yielded, nextToken the continuation token (token mode
// only). In offset mode a short or empty page exhausts the cursor; in token
// mode an empty nextToken exhausts it after the current page.
func (c *Cursor) Advance(count int, nextToken string) {
	if c.exhausted {
		return
	}
	switch c.mode {
	case offsetMode:
		if count < c.pageSize || count == 0 {
			c.exhausted = true
			return
		}
		c.offset += c.pageSize
	default:
		c.started = true
		c.token = nextToken
	}
}

// Exhausted reports whether the cursor has reached its terminal state.
func (c *Cursor) Exhausted() bool { return c.exhausted }
