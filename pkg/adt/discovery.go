package adt

import (
	"context"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
)

// ServiceCollection is one ADT endpoint in the discovery document, with the
// media types it accepts.
type ServiceCollection struct {
	Href   string   `xml:"href,attr" json:"href"`
	Title  string   `xml:"title" json:"title"`
	Accept []string `xml:"accept" json:"accept,omitempty"`
}

// ServiceWorkspace groups related collections in the discovery document.
type ServiceWorkspace struct {
	Title       string              `xml:"title" json:"title"`
	Collections []ServiceCollection `xml:"collection" json:"collections"`
}

// ServiceCatalog is the parsed form of the ADT discovery document, an Atom
// Publishing Protocol service document listing the endpoints the system
// exposes.
type ServiceCatalog struct {
	Workspaces []ServiceWorkspace `json:"workspaces"`

	// collections maps hrefs to collections for lookup
	collections map[string]*ServiceCollection
}

// ParseServiceCatalog parses a discovery document body.
func ParseServiceCatalog(body []byte) (*ServiceCatalog, error) {
	var doc struct {
		XMLName    xml.Name           `xml:"service"`
		Workspaces []ServiceWorkspace `xml:"workspace"`
	}
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parsing discovery document: %w", err)
	}

	catalog := &ServiceCatalog{Workspaces: doc.Workspaces}
	catalog.buildIndex()
	return catalog, nil
}

func (c *ServiceCatalog) buildIndex() {
	c.collections = make(map[string]*ServiceCollection)
	for i := range c.Workspaces {
		for j := range c.Workspaces[i].Collections {
			coll := &c.Workspaces[i].Collections[j]
			c.collections[coll.Href] = coll
		}
	}
}

// HasCollection reports whether an endpoint is listed in the catalog.
// Prefix matching in both directions covers discovery entries that list a
// sub-path of the probed URI ("/sap/bc/adt/ddic/ddl" matches an entry
// "/sap/bc/adt/ddic/ddl/sources") and vice versa.
func (c *ServiceCatalog) HasCollection(uriPath string) bool {
	if c == nil || c.collections == nil {
		return false
	}
	if _, ok := c.collections[uriPath]; ok {
		return true
	}
	for href := range c.collections {
		if strings.HasPrefix(uriPath, href) || strings.HasPrefix(href, uriPath) {
			return true
		}
	}
	return false
}

// Collection returns the catalog entry for an exact href, nil when absent.
func (c *ServiceCatalog) Collection(href string) *ServiceCollection {
	if c == nil || c.collections == nil {
		return nil
	}
	return c.collections[href]
}

// CollectionHrefs returns all endpoint hrefs in the catalog, sorted.
func (c *ServiceCatalog) CollectionHrefs() []string {
	if c == nil {
		return nil
	}
	hrefs := make([]string, 0, len(c.collections))
	for href := range c.collections {
		hrefs = append(hrefs, href)
	}
	sort.Strings(hrefs)
	return hrefs
}

// DiscoverServices fetches the discovery document and parses it into a
// catalog. Use it to probe which ADT endpoints a system exposes before
// issuing requests against them.
func (c *Client) DiscoverServices(ctx context.Context) (*ServiceCatalog, error) {
	resp, err := c.GetDiscovery(ctx)
	if err != nil {
		return nil, err
	}
	return ParseServiceCatalog(resp.Body)
}
