// Package export serializes an ontology's concept graph as RDF using
// SKOS for the concept scheme and PROV-O for document provenance.
package export

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/c360studio/semgraph/graph"
)

// Format specifies the output serialization format.
type Format string

const (
	// FormatTurtle produces Turtle (.ttl) output.
	FormatTurtle Format = "turtle"

	// FormatNTriples produces N-Triples (.nt) output.
	FormatNTriples Format = "ntriples"

	// FormatJSONLD produces JSON-LD (.jsonld) output.
	FormatJSONLD Format = "jsonld"
)

// FormatInfo describes a serialization format.
type FormatInfo struct {
	Name      string
	MediaType string
	Extension string
}

// Formats registers the supported serializations.
var Formats = map[Format]FormatInfo{
	FormatTurtle: {
		Name:      "Turtle",
		MediaType: "text/turtle",
		Extension: ".ttl",
	},
	FormatNTriples: {
		Name:      "N-Triples",
		MediaType: "application/n-triples",
		Extension: ".nt",
	},
	FormatJSONLD: {
		Name:      "JSON-LD",
		MediaType: "application/ld+json",
		Extension: ".jsonld",
	},
}

// ParseFormat resolves a format name, accepting common aliases.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "turtle", "ttl":
		return FormatTurtle, nil
	case "ntriples", "nt", "n-triples":
		return FormatNTriples, nil
	case "jsonld", "json-ld":
		return FormatJSONLD, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", name)
	}
}

// Namespaces used in exported documents.
const (
	ConceptNamespace  = "https://semgraph.dev/concept/"
	SourceNamespace   = "https://semgraph.dev/source/"
	DocumentNamespace = "https://semgraph.dev/document/"
	RelationNamespace = "https://semgraph.dev/rel/"
)

func defaultPrefixes() map[string]string {
	return map[string]string{
		"rdf":  "http://www.w3.org/1999/02/22-rdf-syntax-ns#",
		"rdfs": "http://www.w3.org/2000/01/rdf-schema#",
		"xsd":  "http://www.w3.org/2001/XMLSchema#",
		"dc":   "http://purl.org/dc/terms/",
		"skos": "http://www.w3.org/2004/02/skos/core#",
		"prov": "http://www.w3.org/ns/prov#",
		"sgc":  ConceptNamespace,
		"sgd":  DocumentNamespace,
		"sgr":  RelationNamespace,
	}
}

// Options controls what the snapshot includes.
type Options struct {
	// EvidenceLimit caps the evidence quotes exported per concept.
	// Zero exports no evidence.
	EvidenceLimit int
}

// Snapshot is the exportable view of one ontology.
type Snapshot struct {
	Ontology  string
	Concepts  []ConceptNode
	Documents []graph.DocumentMeta
}

// ConceptNode is a concept joined with its edges and evidence sample.
type ConceptNode struct {
	Concept  graph.Concept
	Edges    []graph.RelatedConcept
	Evidence []graph.Evidence
}

// Exporter builds RDF documents from a graph store.
type Exporter struct {
	store graph.Store
	opts  Options
}

// New creates an Exporter.
func New(store graph.Store, opts Options) *Exporter {
	return &Exporter{store: store, opts: opts}
}

// Snapshot collects the ontology's concepts, relationships, evidence and
// document metadata in a deterministic order.
func (e *Exporter) Snapshot(ctx context.Context, ontology string) (*Snapshot, error) {
	if _, err := e.store.GetOntology(ctx, ontology); err != nil {
		return nil, err
	}

	embeddings, err := e.store.ConceptEmbeddings(ctx, ontology)
	if err != nil {
		return nil, fmt.Errorf("list concepts: %w", err)
	}
	sort.Slice(embeddings, func(i, j int) bool { return embeddings[i].ID < embeddings[j].ID })

	snap := &Snapshot{Ontology: ontology}
	for _, ce := range embeddings {
		concept, err := e.store.GetConcept(ctx, ce.ID)
		if err != nil {
			return nil, fmt.Errorf("concept %s: %w", ce.ID, err)
		}
		node := ConceptNode{Concept: concept}

		edges, err := e.store.Outgoing(ctx, ce.ID)
		if err != nil {
			return nil, fmt.Errorf("edges of %s: %w", ce.ID, err)
		}
		sort.Slice(edges, func(i, j int) bool {
			if edges[i].ConceptID != edges[j].ConceptID {
				return edges[i].ConceptID < edges[j].ConceptID
			}
			return edges[i].RelType < edges[j].RelType
		})
		node.Edges = edges

		if e.opts.EvidenceLimit > 0 {
			evidence, err := e.store.EvidenceSample(ctx, ce.ID, e.opts.EvidenceLimit)
			if err != nil {
				return nil, fmt.Errorf("evidence of %s: %w", ce.ID, err)
			}
			node.Evidence = evidence
		}

		snap.Concepts = append(snap.Concepts, node)
	}

	docs, err := e.store.OntologyDocuments(ctx, ontology)
	if err != nil {
		return nil, fmt.Errorf("documents: %w", err)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].DocumentHash < docs[j].DocumentHash })
	snap.Documents = docs

	return snap, nil
}

// Export snapshots the ontology and serializes it in the given format.
func (e *Exporter) Export(ctx context.Context, ontology string, format Format) (string, error) {
	snap, err := e.Snapshot(ctx, ontology)
	if err != nil {
		return "", err
	}
	switch format {
	case FormatTurtle:
		return snap.toTurtle(), nil
	case FormatNTriples:
		return snap.toNTriples(), nil
	case FormatJSONLD:
		return snap.toJSONLD(), nil
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// conceptIRI returns the absolute IRI for a concept id.
func conceptIRI(id string) string {
	return ConceptNamespace + id
}

// documentIRI returns the absolute IRI for a document hash.
func documentIRI(hash string) string {
	return DocumentNamespace + hash
}

// relTypeIRI maps a vocabulary relationship type onto a predicate IRI.
// Spaces and other unsafe characters collapse to underscores.
func relTypeIRI(relType string) string {
	var b strings.Builder
	for _, r := range relType {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return RelationNamespace + b.String()
}
