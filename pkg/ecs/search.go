package ecs

import (
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

// SearchParam contains parameters for a search query.
// We use expr lang for the where clause to filter the entities, please refer to its documentation
// for more details: https://expr-lang.org/docs/getting-started.
type SearchParam struct {
	Find   []string    // List of component names to search for
	Match  SearchMatch // A match type to use for the search
	Where  string      // Optional expr language string to filter the results
	Limit  int         // Maximum number of results, 0 means no limit
	Offset int         // Number of matching entities to skip
}

// SearchMatch is the type of match to use for the search.
type SearchMatch string

const (
	// MatchExact matches entities that have exactly the specified components.
	MatchExact SearchMatch = "exact"
	// MatchContains matches entities that contain the specified components, but may have other
	// components as well.
	MatchContains SearchMatch = "contains"
	// MatchAll matches every entity. Find is ignored.
	MatchAll SearchMatch = "all"
)

// validateAndGetFilter validates the search parameters and returns an expr VM program compiled
// from the where clause.
func (s *SearchParam) validateAndGetFilter() (*vm.Program, error) {
	if s.Match == "" {
		s.Match = MatchContains
	}
	switch s.Match {
	case MatchExact, MatchContains:
		if len(s.Find) == 0 {
			return nil, eris.New("component list cannot be empty")
		}
	case MatchAll:
	default:
		return nil, eris.Errorf("invalid `match` value: must be '%s', '%s' or '%s'", MatchExact, MatchContains, MatchAll)
	}
	if s.Limit < 0 || s.Offset < 0 {
		return nil, eris.New("limit and offset cannot be negative")
	}

	// If no expression is provided, return a nil program
	if s.Where == "" {
		return nil, nil //nolint:nilnil // no filter
	}

	// Compile the expression and check that the return type is boolean.
	filter, err := expr.Compile(s.Where, expr.AsBool())
	if err != nil {
		return nil, eris.Wrap(err, "failed to parse where clause")
	}
	return filter, nil
}

// Search returns the entities matching the search parameters as documents: one key per component
// name holding the component's JSON form, plus "_id" holding the entity handle. Search must not run
// while a tick is in progress.
func (w *World) Search(params SearchParam) ([]map[string]any, error) {
	filter, err := params.validateAndGetFilter()
	if err != nil {
		return nil, eris.Wrap(err, "invalid search params")
	}

	archs, err := w.searchArchetypes(params.Find, params.Match)
	if err != nil {
		return nil, eris.Wrap(err, "failed to get archetypes from components")
	}

	results := make([]map[string]any, 0)
	skipped := 0
	for _, arch := range archs {
		for row, e := range arch.entities {
			doc, err := w.entityDocument(arch, row, e)
			if err != nil {
				return nil, err
			}

			if filter != nil {
				// The document is the environment of the program, so the where clause can refer to
				// component fields, e.g. health.value > 10.
				output, err := expr.Run(filter, doc)
				if err != nil {
					return nil, eris.Wrap(err, "failed to run filter expression")
				}
				// expr can't fully type check the clause at compile time because the environment
				// only exists while iterating.
				isMatch, ok := output.(bool)
				if !ok {
					return nil, eris.New("invalid where clause")
				}
				if !isMatch {
					continue
				}
			}

			if skipped < params.Offset {
				skipped++
				continue
			}
			results = append(results, doc)
			if params.Limit > 0 && len(results) == params.Limit {
				return results, nil
			}
		}
	}
	return results, nil
}

// searchArchetypes returns the archetypes that match the given components and match type.
func (w *World) searchArchetypes(names []string, match SearchMatch) ([]*Archetype, error) {
	if match == MatchAll {
		return w.archetypes.archetypes, nil
	}

	var sig ComponentSignature
	for _, name := range names {
		id, err := w.components.getID(name)
		if err != nil {
			return nil, err
		}
		sig = sig.With(id)
	}

	if match == MatchExact {
		if arch := w.archetypes.find(sig); arch != nil {
			return []*Archetype{arch}, nil
		}
		return nil, nil
	}
	return w.archetypes.QuerySignature(sig), nil
}

// entityDocument converts an entity to a map of its components. Components go through their JSON
// form so field names in where clauses match the json tags of the component.
func (w *World) entityDocument(arch *Archetype, row int, e Entity) (map[string]any, error) {
	doc := make(map[string]any, len(arch.columns)+1)

	// expr compares numbers by kind, so the handle is stored as a plain uint64.
	doc["_id"] = uint64(e)

	for i, col := range arch.columns {
		data, err := json.Marshal(col.getAbstract(row))
		if err != nil {
			return nil, eris.Wrapf(err, "failed to marshal component %s", w.components.name(arch.ids[i]))
		}
		var value any
		if err := json.Unmarshal(data, &value); err != nil {
			return nil, eris.Wrapf(err, "failed to unmarshal component %s", w.components.name(arch.ids[i]))
		}
		doc[w.components.name(arch.ids[i])] = value
	}
	return doc, nil
}
