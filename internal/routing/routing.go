// Package routing derives storage object paths from source URLs and archive
// object paths. Every function here is pure.
package routing

import (
	"sort"
	"strings"
)

const (
	DefaultArchiveExtension = ".zip"
	DefaultRoute            = "fec"
)

// Rule decides where a fetched file lands. With NestFlat set, files whose
// name does not mention "zip" go into a folder named after their stem so
// they sit next to what the extractor produces for archives.
type Rule struct {
	Name     string `yaml:"name" mapstructure:"name"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
	NestFlat bool   `yaml:"nest_flat" mapstructure:"nest_flat"`
}

// DefaultRules mirrors the two federal sources the pipeline was built for.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		"fec": {Name: "fec", Prefix: "downloads/federal/fec/", NestFlat: true},
		"irs": {Name: "irs", Prefix: "downloads/federal/irs/", NestFlat: false},
	}
}

// RuleNames returns the rule names in a stable order.
func RuleNames(rules map[string]Rule) []string {
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FileName is everything after the last '/' of the source URL, without any
// query or fragment. It is empty for URLs naming a directory.
func FileName(sourceURL string) string {
	if i := strings.IndexAny(sourceURL, "?#"); i >= 0 {
		sourceURL = sourceURL[:i]
	}
	return sourceURL[strings.LastIndex(sourceURL, "/")+1:]
}

// Stem is the file name up to its first '.'.
func Stem(fileName string) string {
	if i := strings.Index(fileName, "."); i >= 0 {
		return fileName[:i]
	}
	return fileName
}

// DestinationPath returns the object path a fetched URL is stored at.
func DestinationPath(rule Rule, sourceURL string) string {
	fileName := FileName(sourceURL)
	if !rule.NestFlat || strings.Contains(fileName, "zip") {
		return rule.Prefix + fileName
	}
	return rule.Prefix + Stem(fileName) + "/" + fileName
}

// IsArchive reports whether an object path should be handed to the extractor.
func IsArchive(objectPath, prefix, extension string) bool {
	return strings.HasSuffix(objectPath, extension) && strings.HasPrefix(objectPath, prefix)
}

// DestinationFolder strips the archive extension from the archive object path.
func DestinationFolder(objectPath, extension string) string {
	return strings.TrimSuffix(objectPath, extension)
}

// EntryPath joins the destination folder with an entry's archive-relative path.
func EntryPath(folder, entryName string) string {
	return folder + "/" + strings.TrimPrefix(entryName, "/")
}
