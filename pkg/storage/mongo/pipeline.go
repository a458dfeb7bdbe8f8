package mongo

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/stratumhq/stratum-engine/pkg/storage"
)

// buildPipeline compiles ordered join operations plus query options into an
// aggregation pipeline. Each one-to-one join is a lookup+unwind (preserving
// empty results only for left joins); each many-join is a bare lookup, so the
// alias stays an array. A chained local ref like "items._id" needs no special
// handling: lookup matches the foreign field against every element of an
// array-valued local path.
func (s *store) buildPipeline(ops []storage.Operation, opts storage.QueryOptions) (mongo.Pipeline, error) {
	if err := s.validateOps(ops); err != nil {
		return nil, err
	}

	filter, err := s.buildFilter(opts.Filters)
	if err != nil {
		return nil, err
	}
	sortDoc, err := s.buildSort(opts)
	if err != nil {
		return nil, err
	}

	pipeline := mongo.Pipeline{}
	if len(filter) > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: filter}})
	}

	for _, op := range ops {
		pipeline = append(pipeline, bson.D{{Key: "$lookup", Value: bson.M{
			"from":         op.From,
			"localField":   op.LocalField,
			"foreignField": op.ForeignField,
			"as":           op.As,
		}}})

		switch op.Kind {
		case storage.JoinLeft:
			pipeline = append(pipeline, unwindStage(op.As, true))
		case storage.JoinInner:
			pipeline = append(pipeline, unwindStage(op.As, false))
		case storage.JoinLeftMany:
			// The lookup already produced the array.
		default:
			return nil, fmt.Errorf("join alias %q: unknown kind %q", op.As, op.Kind)
		}
	}

	if sortDoc != nil {
		pipeline = append(pipeline, bson.D{{Key: "$sort", Value: sortDoc}})
	}

	if opts.Paginated() {
		page, size := opts.PageWindow()
		pipeline = append(pipeline,
			bson.D{{Key: "$facet", Value: bson.M{
				"results": bson.A{
					bson.D{{Key: "$skip", Value: (page - 1) * size}},
					bson.D{{Key: "$limit", Value: size}},
				},
				"total": bson.A{
					bson.D{{Key: "$count", Value: "count"}},
				},
			}}},
			// Normalize the one-element count slot to a scalar; 0 when the
			// filter matched nothing.
			bson.D{{Key: "$project", Value: bson.M{
				"entities": "$results",
				"total": bson.M{"$ifNull": bson.A{
					bson.M{"$arrayElemAt": bson.A{"$total.count", 0}},
					0,
				}},
			}}},
		)
	}

	return pipeline, nil
}

func unwindStage(alias string, preserveEmpty bool) bson.D {
	return bson.D{{Key: "$unwind", Value: bson.M{
		"path":                       "$" + alias,
		"preserveNullAndEmptyArrays": preserveEmpty,
	}}}
}

// validateOps enforces the alias rules shared with the relational planner.
// Source collections are not whitelisted here: a lookup against an unknown
// collection is simply empty, which is the document model's native answer.
func (s *store) validateOps(ops []storage.Operation) error {
	seen := make(map[string]bool, len(ops))
	for i, op := range ops {
		if op.As == "" {
			return fmt.Errorf("join %d on %q has no alias", i, op.From)
		}
		if seen[op.As] {
			return fmt.Errorf("duplicate join alias %q", op.As)
		}
		if s.allowedField(s.spec, op.As) {
			return fmt.Errorf("join alias %q collides with a root field", op.As)
		}
		if op.From == "" || op.LocalField == "" || op.ForeignField == "" {
			return fmt.Errorf("join alias %q is missing from/localField/foreignField", op.As)
		}
		seen[op.As] = true
	}
	return nil
}
