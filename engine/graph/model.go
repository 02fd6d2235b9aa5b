package graph

import (
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// Record is a generic graph node: an ID plus flat string properties
// derived from a stream item.
type Record struct {
	ID         string            `json:"id"`
	Label      string            `json:"label"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Edge is a typed relation between two records.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

// AsMap renders the record as a map-shaped stream item.
func (r Record) AsMap() map[string]any {
	return recordToMap(r)
}

func recordToMap(r Record) map[string]any {
	m := map[string]any{
		"id":    r.ID,
		"label": r.Label,
	}
	for k, v := range r.Properties {
		if k == "id" || k == "label" {
			continue
		}
		m[k] = v
	}
	return m
}

func recordFromNode(node dbtype.Node) Record {
	r := Record{Properties: make(map[string]string)}
	for k, v := range node.Props {
		s := fmt.Sprintf("%v", v)
		switch k {
		case "id":
			r.ID = s
		case "label":
			r.Label = s
		default:
			r.Properties[k] = s
		}
	}
	return r
}

func recordFromNeo4j(rec *neo4j.Record) (Record, error) {
	if len(rec.Values) == 0 {
		return Record{}, fmt.Errorf("graph: empty record")
	}
	node, ok := rec.Values[0].(dbtype.Node)
	if !ok {
		return Record{}, fmt.Errorf("graph: expected node, got %T", rec.Values[0])
	}
	return recordFromNode(node), nil
}
