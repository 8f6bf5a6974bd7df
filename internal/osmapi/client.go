// Package osmapi is a read-only client for the OSM API 0.6, used to
// recover historical object versions and node coordinates that neither the
// change stream nor the store can provide.
package osmapi

import (
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/osm"

	"github.com/banshee-data/osmwatch/internal/httputil"
	"github.com/banshee-data/osmwatch/internal/osc"
)

// DefaultBaseURL is the production OSM API endpoint.
const DefaultBaseURL = "https://api.openstreetmap.org/api/0.6"

// nodesPerRequest is the bulk endpoint's documented ceiling.
const nodesPerRequest = 500

// Client issues read-only requests against one API base URL.
type Client struct {
	base string
	http httputil.HTTPClient
}

// New creates a client. An empty base selects DefaultBaseURL; a nil hc
// selects the standard HTTP client.
func New(base string, hc httputil.HTTPClient) *Client {
	if base == "" {
		base = DefaultBaseURL
	}
	if hc == nil {
		hc = httputil.NewStandardClient(nil)
	}
	return &Client{base: strings.TrimSuffix(base, "/"), http: hc}
}

// osmBody is the payload of an <osm> response document.
type osmBody struct {
	XMLName    xml.Name        `xml:"osm"`
	Nodes      []*osm.Node     `xml:"node"`
	Ways       []*osm.Way      `xml:"way"`
	Relations  []*osm.Relation `xml:"relation"`
	Changesets []*Changeset    `xml:"changeset"`
}

// Changeset is the header of one changeset element.
type Changeset struct {
	ID        int64     `xml:"id,attr"`
	UserID    int64     `xml:"uid,attr"`
	User      string    `xml:"user,attr"`
	CreatedAt time.Time `xml:"created_at,attr"`
}

// UserInfo is the account summary returned by the user endpoint.
type UserInfo struct {
	ID             int64
	Name           string
	AccountCreated time.Time
	ChangesetCount int
}

func (c *Client) get(path string) (int, []byte, error) {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// ObjectVersion fetches one historical version of an object. A non-200
// response is a recoverable miss: the element is empty and the error nil.
func (c *Client) ObjectVersion(typ osm.Type, id int64, version int) (osc.Element, error) {
	status, body, err := c.get(fmt.Sprintf("/%s/%d/%d", typ, id, version))
	if err != nil {
		return osc.Element{}, fmt.Errorf("fetch %s/%d/%d: %w", typ, id, version, err)
	}
	log.Printf("queried OSM API for %s %d v%d, status code %d", typ, id, version, status)
	if status != http.StatusOK {
		return osc.Element{}, nil
	}
	var parsed osmBody
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return osc.Element{}, fmt.Errorf("fetch %s/%d/%d: %w", typ, id, version, err)
	}
	switch {
	case len(parsed.Nodes) > 0:
		return osc.Element{Node: parsed.Nodes[0]}, nil
	case len(parsed.Ways) > 0:
		return osc.Element{Way: parsed.Ways[0]}, nil
	case len(parsed.Relations) > 0:
		return osc.Element{Relation: parsed.Relations[0]}, nil
	}
	return osc.Element{}, nil
}

// NodeLocations resolves coordinates for the given node ids, in decimal
// degrees. The bulk endpoint is queried up to 500 ids at a time; ids it
// omits (deleted nodes) fall back to the node's history, taking the most
// recent version that carries coordinates. Any required lookup that fails
// is an error: the caller cannot enrich its way without the coordinate.
func (c *Client) NodeLocations(ids []int64) (map[int64][2]float64, error) {
	result := make(map[int64][2]float64)
	if len(ids) == 0 {
		return result, nil
	}
	for start := 0; start < len(ids); start += nodesPerRequest {
		end := start + nodesPerRequest
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		parts := make([]string, len(chunk))
		for i, id := range chunk {
			parts[i] = strconv.FormatInt(id, 10)
		}
		status, body, err := c.get("/nodes?nodes=" + strings.Join(parts, ","))
		if err != nil {
			return nil, fmt.Errorf("fetch nodes: %w", err)
		}
		log.Printf("requested %d nodes from OSM API, status code %d", len(chunk), status)
		if status != http.StatusOK {
			return nil, fmt.Errorf("fetch nodes: status %d for ids %s", status, strings.Join(parts, ","))
		}
		var parsed osmBody
		if err := xml.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("fetch nodes: %w", err)
		}
		for _, n := range parsed.Nodes {
			if n.Lat != 0 || n.Lon != 0 {
				result[int64(n.ID)] = [2]float64{n.Lat, n.Lon}
			}
		}
	}

	// Deleted nodes are absent from the bulk response.
	for _, id := range ids {
		if _, ok := result[id]; ok {
			continue
		}
		loc, err := c.nodeFromHistory(id)
		if err != nil {
			return nil, err
		}
		result[id] = loc
	}
	return result, nil
}

// nodeFromHistory returns the coordinates of the most recent version of a
// node that still had them (a deleted node's last live version).
func (c *Client) nodeFromHistory(id int64) ([2]float64, error) {
	status, body, err := c.get(fmt.Sprintf("/node/%d/history", id))
	if err != nil {
		return [2]float64{}, fmt.Errorf("fetch node %d history: %w", id, err)
	}
	log.Printf("requested node %d history, status code %d", id, status)
	if status != http.StatusOK {
		return [2]float64{}, fmt.Errorf("fetch node %d history: status %d", id, status)
	}
	var parsed osmBody
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return [2]float64{}, fmt.Errorf("fetch node %d history: %w", id, err)
	}
	for i := len(parsed.Nodes) - 1; i >= 0; i-- {
		n := parsed.Nodes[i]
		if n.Lat != 0 || n.Lon != 0 {
			return [2]float64{n.Lat, n.Lon}, nil
		}
	}
	return [2]float64{}, fmt.Errorf("node %d has no version with coordinates", id)
}

// UserChangesets returns the first changeset of the given display name, or
// nil when the name is unknown or has no changesets.
func (c *Client) UserChangesets(displayName string) (*Changeset, error) {
	status, body, err := c.get("/changesets?display_name=" + url.QueryEscape(displayName))
	if err != nil {
		return nil, fmt.Errorf("fetch changesets for %q: %w", displayName, err)
	}
	if status != http.StatusOK {
		return nil, nil
	}
	var parsed osmBody
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("fetch changesets for %q: %w", displayName, err)
	}
	if len(parsed.Changesets) == 0 {
		return nil, nil
	}
	return parsed.Changesets[0], nil
}

// User returns the account summary for a uid.
func (c *Client) User(uid int64) (*UserInfo, error) {
	status, body, err := c.get(fmt.Sprintf("/user/%d", uid))
	if err != nil {
		return nil, fmt.Errorf("fetch user %d: %w", uid, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("fetch user %d: status %d", uid, status)
	}
	var parsed struct {
		User struct {
			ID         int64     `xml:"id,attr"`
			Name       string    `xml:"display_name,attr"`
			Created    time.Time `xml:"account_created,attr"`
			Changesets struct {
				Count int `xml:"count,attr"`
			} `xml:"changesets"`
		} `xml:"user"`
	}
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("fetch user %d: %w", uid, err)
	}
	return &UserInfo{
		ID:             parsed.User.ID,
		Name:           parsed.User.Name,
		AccountCreated: parsed.User.Created,
		ChangesetCount: parsed.User.Changesets.Count,
	}, nil
}
