// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package track

import (
	"fmt"
	"maps"
	"slices"
)

// Corpus is a pool of tracks with its duplicate-tag index. The field
// names match the feature pipeline's export so a JSON corpus decodes
// directly.
type Corpus struct {
	Tracks    map[string]Record   `json:"tracks"`
	Tags      map[string][]string `json:"tags"`
	IDsToTags map[string]string   `json:"idsToTags"`
}

// NewCorpus returns an empty corpus.
func NewCorpus() *Corpus {
	return &Corpus{
		Tracks:    make(map[string]Record),
		Tags:      make(map[string][]string),
		IDsToTags: make(map[string]string),
	}
}

// Len returns the number of tracks.
func (c *Corpus) Len() int { return len(c.Tracks) }

// Get returns the record for id.
func (c *Corpus) Get(id string) (Record, bool) {
	record, ok := c.Tracks[id]
	return record, ok
}

// TagOf returns the tag of id, or "" if the track is untagged.
func (c *Corpus) TagOf(id string) string { return c.IDsToTags[id] }

// IDs returns every track id in sorted order.
func (c *Corpus) IDs() []string {
	return slices.Sorted(maps.Keys(c.Tracks))
}

// Add inserts or replaces a record and indexes its tag. A record
// without a tag is tagged from its title and primary artist.
func (c *Corpus) Add(record Record) error {
	id := record.ID()
	if id == "" {
		return fmt.Errorf("track has no id")
	}
	tag := record.Tag
	if tag == "" {
		var err error
		if tag, err = Tag(record.Track); err != nil {
			return fmt.Errorf("tagging track %s: %w", id, err)
		}
	}
	if previous, ok := c.IDsToTags[id]; ok {
		c.unindex(id, previous)
	}
	record.Tag = ""
	c.Tracks[id] = record
	c.IDsToTags[id] = tag
	c.Tags[tag] = append(c.Tags[tag], id)
	return nil
}

func (c *Corpus) unindex(id, tag string) {
	remaining := slices.DeleteFunc(c.Tags[tag], func(member string) bool { return member == id })
	if len(remaining) == 0 {
		delete(c.Tags, tag)
		return
	}
	c.Tags[tag] = remaining
}

// Restrict returns a corpus holding only the listed ids that exist in
// c. Unknown ids are dropped. The result shares no maps with c.
func (c *Corpus) Restrict(ids []string) *Corpus {
	restricted := NewCorpus()
	for _, id := range ids {
		record, ok := c.Tracks[id]
		if !ok {
			continue
		}
		if _, seen := restricted.Tracks[id]; seen {
			continue
		}
		restricted.Tracks[id] = record
		if tag, ok := c.IDsToTags[id]; ok {
			restricted.IDsToTags[id] = tag
			restricted.Tags[tag] = append(restricted.Tags[tag], id)
		}
	}
	return restricted
}

// Clone returns a deep copy of the index maps. Records are values and
// are copied with the map.
func (c *Corpus) Clone() *Corpus {
	clone := &Corpus{
		Tracks:    maps.Clone(c.Tracks),
		IDsToTags: maps.Clone(c.IDsToTags),
		Tags:      make(map[string][]string, len(c.Tags)),
	}
	for tag, ids := range c.Tags {
		clone.Tags[tag] = slices.Clone(ids)
	}
	return clone
}

// Point returns the point for id.
func (c *Corpus) Point(id string) (Point, bool) {
	record, ok := c.Tracks[id]
	if !ok {
		return Point{}, false
	}
	return NewPoint(id, c.IDsToTags[id], record), true
}

// Points returns a point for every track, ordered by id.
func (c *Corpus) Points() []Point {
	ids := c.IDs()
	points := make([]Point, 0, len(ids))
	for _, id := range ids {
		points = append(points, NewPoint(id, c.IDsToTags[id], c.Tracks[id]))
	}
	return points
}

// reconcile makes a decoded corpus internally consistent: nil maps are
// allocated, the id-to-tag map is rebuilt from the tag lists where it
// is missing entries, index entries for absent tracks are dropped, and
// untagged tracks with artists are tagged.
func (c *Corpus) reconcile() {
	if c.Tracks == nil {
		c.Tracks = make(map[string]Record)
	}
	if c.Tags == nil {
		c.Tags = make(map[string][]string)
	}
	if c.IDsToTags == nil {
		c.IDsToTags = make(map[string]string)
	}
	for tag, ids := range c.Tags {
		for _, id := range ids {
			if _, ok := c.IDsToTags[id]; !ok {
				c.IDsToTags[id] = tag
			}
		}
	}
	for id := range c.IDsToTags {
		if _, ok := c.Tracks[id]; !ok {
			delete(c.IDsToTags, id)
		}
	}
	for tag, ids := range c.Tags {
		ids = slices.DeleteFunc(ids, func(id string) bool {
			_, ok := c.Tracks[id]
			return !ok
		})
		if len(ids) == 0 {
			delete(c.Tags, tag)
			continue
		}
		c.Tags[tag] = ids
	}
	for _, id := range slices.Sorted(maps.Keys(c.Tracks)) {
		if _, ok := c.IDsToTags[id]; ok {
			continue
		}
		if tag, err := Tag(c.Tracks[id].Track); err == nil {
			c.IDsToTags[id] = tag
			c.Tags[tag] = append(c.Tags[tag], id)
		}
	}
}
