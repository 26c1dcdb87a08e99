package export

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Well-known predicate IRIs.
const (
	rdfType        = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"
	skosConcept    = "http://www.w3.org/2004/02/skos/core#Concept"
	skosScheme     = "http://www.w3.org/2004/02/skos/core#ConceptScheme"
	skosInScheme   = "http://www.w3.org/2004/02/skos/core#inScheme"
	skosPrefLabel  = "http://www.w3.org/2004/02/skos/core#prefLabel"
	skosAltLabel   = "http://www.w3.org/2004/02/skos/core#altLabel"
	skosDefinition = "http://www.w3.org/2004/02/skos/core#definition"
	skosNote       = "http://www.w3.org/2004/02/skos/core#note"
	provEntity     = "http://www.w3.org/ns/prov#Entity"
	provDerived    = "http://www.w3.org/ns/prov#wasDerivedFrom"
	provGenerated  = "http://www.w3.org/ns/prov#generatedAtTime"
	dcTitle        = "http://purl.org/dc/terms/title"
)

// SchemeNamespace holds one skos:ConceptScheme per ontology.
const SchemeNamespace = "https://semgraph.dev/scheme/"

// iriRef marks a value as a resource reference rather than a literal.
type iriRef string

// triple is one predicate/object pair on a node.
type triple struct {
	Predicate string
	Object    any
}

// node is an exportable subject with its type assertions and triples.
type node struct {
	IRI     string
	Types   []string
	Triples []triple
}

// nodes flattens the snapshot into an ordered node list shared by all
// serializers: the scheme first, then concepts, then documents.
func (s *Snapshot) nodes() []node {
	schemeIRI := SchemeNamespace + s.Ontology

	out := []node{{
		IRI:   schemeIRI,
		Types: []string{skosScheme},
		Triples: []triple{
			{dcTitle, s.Ontology},
		},
	}}

	for _, cn := range s.Concepts {
		n := node{
			IRI:   conceptIRI(cn.Concept.ID),
			Types: []string{skosConcept},
		}
		n.Triples = append(n.Triples,
			triple{skosInScheme, iriRef(schemeIRI)},
			triple{skosPrefLabel, cn.Concept.Label},
		)
		if cn.Concept.Description != "" {
			n.Triples = append(n.Triples, triple{skosDefinition, cn.Concept.Description})
		}
		terms := append([]string(nil), cn.Concept.SearchTerms...)
		sort.Strings(terms)
		for _, term := range terms {
			if term == cn.Concept.Label {
				continue
			}
			n.Triples = append(n.Triples, triple{skosAltLabel, term})
		}
		for _, edge := range cn.Edges {
			n.Triples = append(n.Triples, triple{relTypeIRI(edge.RelType), iriRef(conceptIRI(edge.ConceptID))})
		}
		seen := map[string]bool{}
		for _, ev := range cn.Evidence {
			n.Triples = append(n.Triples, triple{skosNote, ev.Quote})
			if !seen[ev.SourceID] {
				seen[ev.SourceID] = true
				n.Triples = append(n.Triples, triple{provDerived, iriRef(SourceNamespace + ev.SourceID)})
			}
		}
		out = append(out, n)
	}

	for _, doc := range s.Documents {
		out = append(out, node{
			IRI:   documentIRI(doc.DocumentHash),
			Types: []string{provEntity},
			Triples: []triple{
				{dcTitle, doc.Document},
				{skosInScheme, iriRef(schemeIRI)},
				{provGenerated, doc.IngestedAt.UTC()},
			},
		})
	}

	return out
}

// toTurtle serializes the snapshot to Turtle.
func (s *Snapshot) toTurtle() string {
	var sb strings.Builder

	prefixes := defaultPrefixes()
	keys := make([]string, 0, len(prefixes))
	for k := range prefixes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, prefix := range keys {
		fmt.Fprintf(&sb, "@prefix %s: <%s> .\n", prefix, prefixes[prefix])
	}
	sb.WriteString("\n")

	for _, n := range s.nodes() {
		fmt.Fprintf(&sb, "<%s>\n", n.IRI)
		for i, typeIRI := range n.Types {
			fmt.Fprintf(&sb, "    a <%s>", typeIRI)
			if i < len(n.Types)-1 || len(n.Triples) > 0 {
				sb.WriteString(" ;\n")
			} else {
				sb.WriteString(" .\n")
			}
		}
		for i, t := range n.Triples {
			fmt.Fprintf(&sb, "    <%s> %s", t.Predicate, turtleObject(t.Object))
			if i < len(n.Triples)-1 {
				sb.WriteString(" ;\n")
			} else {
				sb.WriteString(" .\n")
			}
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// toNTriples serializes the snapshot to N-Triples.
func (s *Snapshot) toNTriples() string {
	var sb strings.Builder

	for _, n := range s.nodes() {
		for _, typeIRI := range n.Types {
			fmt.Fprintf(&sb, "<%s> <%s> <%s> .\n", n.IRI, rdfType, typeIRI)
		}
		for _, t := range n.Triples {
			fmt.Fprintf(&sb, "<%s> <%s> %s .\n", n.IRI, t.Predicate, ntriplesObject(t.Object))
		}
	}

	return sb.String()
}

// jsonldNode is the marshaling shape of one @graph entry.
type jsonldNode struct {
	id         string
	types      []string
	properties []triple
}

func (n jsonldNode) MarshalJSON() ([]byte, error) {
	obj := map[string]any{
		"@id":   n.id,
		"@type": n.types,
	}
	for _, t := range n.properties {
		val := jsonldObject(t.Object)
		switch existing := obj[t.Predicate].(type) {
		case nil:
			obj[t.Predicate] = val
		case []any:
			obj[t.Predicate] = append(existing, val)
		default:
			obj[t.Predicate] = []any{existing, val}
		}
	}
	return json.Marshal(obj)
}

// toJSONLD serializes the snapshot to JSON-LD.
func (s *Snapshot) toJSONLD() string {
	graph := make([]jsonldNode, 0)
	for _, n := range s.nodes() {
		graph = append(graph, jsonldNode{id: n.IRI, types: n.Types, properties: n.Triples})
	}

	doc := map[string]any{
		"@context": defaultPrefixes(),
		"@graph":   graph,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data) + "\n"
}

func turtleObject(obj any) string {
	switch v := obj.(type) {
	case iriRef:
		return fmt.Sprintf("<%s>", string(v))
	case string:
		return `"` + escapeLiteral(v) + `"`
	case time.Time:
		return `"` + v.Format(time.RFC3339) + `"^^xsd:dateTime`
	case int, int32, int64:
		return fmt.Sprintf("\"%d\"^^xsd:integer", v)
	case float32, float64:
		return fmt.Sprintf("\"%v\"^^xsd:decimal", v)
	case bool:
		return fmt.Sprintf("\"%t\"^^xsd:boolean", v)
	default:
		return `"` + escapeLiteral(fmt.Sprint(v)) + `"`
	}
}

func ntriplesObject(obj any) string {
	switch v := obj.(type) {
	case iriRef:
		return fmt.Sprintf("<%s>", string(v))
	case string:
		return `"` + escapeLiteral(v) + `"`
	case time.Time:
		return `"` + v.Format(time.RFC3339) + `"^^<http://www.w3.org/2001/XMLSchema#dateTime>`
	case int, int32, int64:
		return fmt.Sprintf("\"%d\"^^<http://www.w3.org/2001/XMLSchema#integer>", v)
	case float32, float64:
		return fmt.Sprintf("\"%v\"^^<http://www.w3.org/2001/XMLSchema#decimal>", v)
	case bool:
		return fmt.Sprintf("\"%t\"^^<http://www.w3.org/2001/XMLSchema#boolean>", v)
	default:
		return `"` + escapeLiteral(fmt.Sprint(v)) + `"`
	}
}

func jsonldObject(obj any) any {
	switch v := obj.(type) {
	case iriRef:
		return map[string]any{"@id": string(v)}
	case time.Time:
		return map[string]any{
			"@value": v.Format(time.RFC3339),
			"@type":  "xsd:dateTime",
		}
	default:
		return v
	}
}

// escapeLiteral escapes characters that break RDF string literals.
func escapeLiteral(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = strings.ReplaceAll(s, "\t", "\\t")
	return s
}
