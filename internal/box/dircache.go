package box

import "container/list"

// dirCache is an LRU cache of loaded directories. Pinned directories are
// never evicted.
type dirCache struct {
	limit   int
	entries map[ObjectID]*list.Element
	order   *list.List // front is most recently used
	pins    map[ObjectID]int
}

func newDirCache(limit int) *dirCache {
	if limit < 1 {
		limit = 1
	}
	return &dirCache{
		limit:   limit,
		entries: make(map[ObjectID]*list.Element),
		order:   list.New(),
		pins:    make(map[ObjectID]int),
	}
}

func (c *dirCache) get(id ObjectID) *Directory {
	el, ok := c.entries[id]
	if !ok {
		return nil
	}
	c.order.MoveToFront(el)
	return el.Value.(*Directory)
}

func (c *dirCache) put(d *Directory) {
	if el, ok := c.entries[d.ObjectID]; ok {
		el.Value = d
		c.order.MoveToFront(el)
		return
	}
	c.entries[d.ObjectID] = c.order.PushFront(d)
	c.evict()
}

func (c *dirCache) remove(id ObjectID) {
	if el, ok := c.entries[id]; ok {
		c.order.Remove(el)
		delete(c.entries, id)
	}
}

func (c *dirCache) pin(id ObjectID) { c.pins[id]++ }

func (c *dirCache) unpin(id ObjectID) {
	if c.pins[id] <= 1 {
		delete(c.pins, id)
	} else {
		c.pins[id]--
	}
	c.evict()
}

func (c *dirCache) len() int { return c.order.Len() }

func (c *dirCache) clear() {
	c.entries = make(map[ObjectID]*list.Element)
	c.order.Init()
}

func (c *dirCache) evict() {
	for el := c.order.Back(); el != nil && c.order.Len() > c.limit; {
		prev := el.Prev()
		d := el.Value.(*Directory)
		if c.pins[d.ObjectID] == 0 {
			c.order.Remove(el)
			delete(c.entries, d.ObjectID)
		}
		el = prev
	}
}
