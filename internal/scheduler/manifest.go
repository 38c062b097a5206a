package scheduler

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/tanq16/stager/internal/utils"
	"gopkg.in/yaml.v3"
)

// ManifestEntry is either a bare URL or a mapping with a link field.
type ManifestEntry struct {
	Link string `yaml:"link"`
}

func (e *ManifestEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		e.Link = node.Value
		return nil
	}
	type plain ManifestEntry
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*e = ManifestEntry(p)
	return nil
}

// Manifest maps a route name to the URLs fetched under it.
type Manifest map[string][]ManifestEntry

// ParseManifest reads a YAML manifest and expands {year} in every link.
// Jobs come out grouped by route name in lexical order.
func ParseManifest(r io.Reader, year int) ([]Job, error) {
	var m Manifest
	if err := yaml.NewDecoder(r).Decode(&m); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("manifest is empty")
		}
		return nil, fmt.Errorf("error parsing manifest: %w", err)
	}
	routes := make([]string, 0, len(m))
	for route := range m {
		routes = append(routes, route)
	}
	sort.Strings(routes)

	var jobs []Job
	for _, route := range routes {
		for _, entry := range m[route] {
			link := strings.TrimSpace(entry.Link)
			if link == "" {
				return nil, fmt.Errorf("empty link in %s section", route)
			}
			jobs = append(jobs, Job{Route: strings.ToLower(route), URL: utils.ExpandYear(link, year)})
		}
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("manifest has no jobs")
	}
	return jobs, nil
}
