package metadata

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-openapi/inflect"
	"gopkg.in/yaml.v3"
)

// Load reads models from a YAML document:
//
//	models:
//	  - uid: api::article.article
//	    attributes:
//	      tags:
//	        type: relation
//	        relation: manyToMany
//	        target: api::tag.tag
//	        joinTable:
//	          name: articles_tags_lnk
//	          joinColumn: {name: article_id, referencedColumn: id}
//	          inverseJoinColumn: {name: tag_id, referencedColumn: id}
//
// Attributes keep their declaration order.
func Load(r io.Reader) (*Registry, error) {
	var doc struct {
		Models []*Model `yaml:"models"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("metadata: decode: %w", err)
	}
	return NewRegistry(doc.Models...)
}

// LoadFile reads models from a YAML file.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// UnmarshalYAML decodes a model keeping the order of its attributes.
func (m *Model) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		UID        string    `yaml:"uid"`
		TableName  string    `yaml:"tableName"`
		Attributes yaml.Node `yaml:"attributes"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	m.UID, m.TableName = raw.UID, raw.TableName
	attrs := raw.Attributes
	switch attrs.Kind {
	case 0:
		return nil
	case yaml.MappingNode:
	default:
		return fmt.Errorf("metadata: line %d: attributes of %q must be a mapping", attrs.Line, m.UID)
	}
	for i := 0; i+1 < len(attrs.Content); i += 2 {
		a := &Attribute{Name: attrs.Content[i].Value}
		if err := attrs.Content[i+1].Decode(a); err != nil {
			return fmt.Errorf("metadata: attribute %q of %q: %w", a.Name, m.UID, err)
		}
		m.Attributes = append(m.Attributes, a)
	}
	return nil
}

// DefaultTableName returns the table name of a model declared without one:
// the tableized singular name, prefixed by "components_<category>_" for
// components.
//
//	DefaultTableName("api::blog-post.blog-post") // blog_posts
//	DefaultTableName("shared.seo")               // components_shared_seos
func DefaultTableName(uid string) string {
	name := uid
	if i := strings.Index(name, "::"); i >= 0 {
		name = name[i+2:]
	}
	category := ""
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		category, name = name[:i], name[i+1:]
	}
	table := inflect.Tableize(name)
	if IsComponent(uid) {
		return "components_" + inflect.Underscore(category) + "_" + table
	}
	return table
}
