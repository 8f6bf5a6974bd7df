package osc

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/paulmach/osm"
)

// Open opens an osmChange file, transparently decompressing gzip input.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(f)
	magic, err := br.Peek(2)
	if err != nil && err != io.EOF {
		f.Close()
		return nil, err
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		return &gzipReadCloser{gz: gz, file: f}, nil
	}
	return &plainReadCloser{r: br, file: f}, nil
}

type gzipReadCloser struct {
	gz   *gzip.Reader
	file *os.File
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipReadCloser) Close() error {
	g.gz.Close()
	return g.file.Close()
}

type plainReadCloser struct {
	r    io.Reader
	file *os.File
}

func (p *plainReadCloser) Read(b []byte) (int, error) { return p.r.Read(b) }
func (p *plainReadCloser) Close() error               { return p.file.Close() }

// Scan streams an osmChange document, invoking fn for every object in
// document order with the action block it appeared under. Elements are
// decoded one at a time and released after the callback returns. A non-nil
// error from fn aborts the scan.
func Scan(r io.Reader, fn func(action ActionType, el Element) error) error {
	dec := xml.NewDecoder(r)
	var current ActionType
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("osmChange parse: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "create", "modify", "delete":
				current = ActionType(t.Name.Local)
			case "node":
				if current == "" {
					if err := dec.Skip(); err != nil {
						return fmt.Errorf("osmChange parse: %w", err)
					}
					continue
				}
				var n osm.Node
				if err := dec.DecodeElement(&n, &t); err != nil {
					return fmt.Errorf("osmChange parse: %w", err)
				}
				if err := fn(current, Element{Node: &n}); err != nil {
					return err
				}
			case "way":
				if current == "" {
					if err := dec.Skip(); err != nil {
						return fmt.Errorf("osmChange parse: %w", err)
					}
					continue
				}
				var w osm.Way
				if err := dec.DecodeElement(&w, &t); err != nil {
					return fmt.Errorf("osmChange parse: %w", err)
				}
				if err := fn(current, Element{Way: &w}); err != nil {
					return err
				}
			case "relation":
				if current == "" {
					if err := dec.Skip(); err != nil {
						return fmt.Errorf("osmChange parse: %w", err)
					}
					continue
				}
				var rel osm.Relation
				if err := dec.DecodeElement(&rel, &t); err != nil {
					return fmt.Errorf("osmChange parse: %w", err)
				}
				if err := fn(current, Element{Relation: &rel}); err != nil {
					return err
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "create", "modify", "delete":
				current = ""
			}
		}
	}
}

// ScanFile is Scan over a file path, reopening the file for each pass.
func ScanFile(path string, fn func(action ActionType, el Element) error) error {
	r, err := Open(path)
	if err != nil {
		return err
	}
	defer r.Close()
	return Scan(r, fn)
}
