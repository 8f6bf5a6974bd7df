// Package adiff builds and reads augmented diff documents: osmChange
// actions enriched with prior object state, inline way-node coordinates
// and bounding boxes.
package adiff

import (
	"encoding/xml"
	"fmt"
	"io"
	"sort"

	"github.com/paulmach/osm"

	"github.com/banshee-data/osmwatch/internal/osc"
)

// Generator is the generator attribute written on adiff documents.
const Generator = "osmwatch"

// Document is one <osm> adiff document.
type Document struct {
	XMLName   xml.Name  `xml:"osm"`
	Version   string    `xml:"version,attr"`
	Generator string    `xml:"generator,attr"`
	Actions   []*Action `xml:"action"`
}

// NewDocument returns an empty adiff document with the standard header.
func NewDocument() *Document {
	return &Document{Version: "0.6", Generator: Generator}
}

// Action is one <action> element. A create carries its element directly;
// modify and delete carry <old> and <new> bodies.
type Action struct {
	Type osc.ActionType `xml:"type,attr"`

	osc.Element

	Old *Body `xml:"old"`
	New *Body `xml:"new"`
}

// Body is the <old> or <new> wrapper around an element.
type Body struct {
	osc.Element
}

// Payload returns the "after" element of the action: the created element,
// or the content of <new>.
func (a *Action) Payload() osc.Element {
	if a.Type == osc.ActionCreate {
		return a.Element
	}
	if a.New != nil {
		return a.New.Element
	}
	return osc.Element{}
}

// OldElement returns the content of <old>, empty for creates.
func (a *Action) OldElement() osc.Element {
	if a.Old != nil {
		return a.Old.Element
	}
	return osc.Element{}
}

// Write serialises the document as indented XML.
func (d *Document) Write(w io.Writer) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("write adiff: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// Parse reads an adiff document whole. The extractor cross-references
// actions against each other, so streaming would buy nothing here.
func Parse(r io.Reader) (*Document, error) {
	var doc Document
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse adiff: %w", err)
	}
	return &doc, nil
}

// boundsBuilder accumulates a bounding box over observed coordinates.
type boundsBuilder struct {
	minLat, maxLat float64
	minLon, maxLon float64
	seen           bool
}

func (b *boundsBuilder) extend(lat, lon float64) {
	if !b.seen {
		b.minLat, b.maxLat = lat, lat
		b.minLon, b.maxLon = lon, lon
		b.seen = true
		return
	}
	if lat < b.minLat {
		b.minLat = lat
	}
	if lat > b.maxLat {
		b.maxLat = lat
	}
	if lon < b.minLon {
		b.minLon = lon
	}
	if lon > b.maxLon {
		b.maxLon = lon
	}
}

func (b *boundsBuilder) bounds() *osm.Bounds {
	if !b.seen {
		return nil
	}
	return &osm.Bounds{
		MinLat: b.minLat,
		MaxLat: b.maxLat,
		MinLon: b.minLon,
		MaxLon: b.maxLon,
	}
}

// tagsFromMap converts a tag map to a deterministic tag list.
func tagsFromMap(m map[string]string) osm.Tags {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tags := make(osm.Tags, 0, len(keys))
	for _, k := range keys {
		tags = append(tags, osm.Tag{Key: k, Value: m[k]})
	}
	return tags
}
