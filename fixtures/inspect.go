package fixtures

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// Summary describes a fixture document.
type Summary struct {
	Name      string `yaml:"name"`
	Size      int64  `yaml:"size"`
	Root      string `yaml:"root"`
	Status    string `yaml:"status,omitempty"`
	Message   string `yaml:"message,omitempty"`
	Resources int    `yaml:"resources"`
	Rows      int    `yaml:"rows"`
}

// IsError reports whether the fixture carries a VOTable error status.
func (s Summary) IsError() bool {
	return strings.EqualFold(s.Status, "ERROR")
}

// Inspect parses a fixture as XML and summarises its VOTable structure.
// It fails if the fixture is missing or not well-formed.
func Inspect(store Store, name string) (Summary, error) {
	size, err := store.Size(name)
	if err != nil {
		return Summary{}, err
	}
	rc, err := store.Open(name)
	if err != nil {
		return Summary{}, err
	}
	defer rc.Close()

	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(rc); err != nil {
		return Summary{}, fmt.Errorf("parsing fixture %q: %w", name, err)
	}
	root := doc.Root()
	if root == nil {
		return Summary{}, fmt.Errorf("parsing fixture %q: empty document", name)
	}

	sum := Summary{
		Name:      name,
		Size:      size,
		Root:      root.Tag,
		Resources: len(doc.FindElements("//RESOURCE")),
		Rows:      len(doc.FindElements("//TABLEDATA/TR")),
	}
	if info := doc.FindElement("//INFO[@name='QUERY_STATUS']"); info != nil {
		sum.Status = info.SelectAttrValue("value", "")
		sum.Message = strings.TrimSpace(info.Text())
	}
	return sum, nil
}

// InspectAll summarises every fixture matching pattern in a listable store.
// Parse failures are collected per name rather than aborting the walk.
func InspectAll(store Store, pattern string) ([]Summary, map[string]error, error) {
	lister, ok := store.(Lister)
	if !ok {
		return nil, nil, fmt.Errorf("fixture store %T cannot list its contents", store)
	}
	names, err := lister.List(pattern)
	if err != nil {
		return nil, nil, err
	}

	var sums []Summary
	failures := make(map[string]error)
	for _, name := range names {
		sum, err := Inspect(store, name)
		if err != nil {
			failures[name] = err
			continue
		}
		sums = append(sums, sum)
	}
	return sums, failures, nil
}
