package mongo

import (
	"reflect"
	"strings"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/pkg/modelspec"
	"github.com/stratumhq/stratum-engine/pkg/storage"
)

func pipelineFixture(t *testing.T, multiTenant bool) *store {
	t.Helper()

	product := modelspec.MustNew(modelspec.Config{
		Name: "product",
		Fields: []modelspec.Field{
			{Name: "name", Type: modelspec.TypeString, Required: true},
			{Name: "price", Type: modelspec.TypeNumber},
			{Name: "categoryId", Type: modelspec.TypeID},
		},
		TenantScoped: true,
	})
	return &store{
		provider: &provider{multiTenant: multiTenant, logger: zap.NewNop()},
		spec:     product,
		logger:   zap.NewNop(),
	}
}

func intPtr(v int) *int { return &v }

func TestBuildPipelineJoins(t *testing.T) {
	s := pipelineFixture(t, false)

	ops := []storage.Operation{
		storage.LeftJoin("categories", "categoryId", "_id", "category"),
		storage.InnerJoin("suppliers", "categoryId", "_id", "supplier"),
		storage.LeftJoinMany("order_items", "_id", "productId", "items"),
	}
	pipeline, err := s.buildPipeline(ops, storage.QueryOptions{
		Filters: map[string]storage.Predicate{"name": storage.Eq("Drill")},
	})
	if err != nil {
		t.Fatalf("buildPipeline: %v", err)
	}

	// match, 3 lookups, 2 unwinds (none for the many-join), no facet.
	if len(pipeline) != 6 {
		t.Fatalf("pipeline has %d stages, want 6", len(pipeline))
	}

	match := pipeline[0]
	if match[0].Key != "$match" {
		t.Errorf("stage 0 = %s, want $match", match[0].Key)
	}

	lookup := pipeline[1][0]
	if lookup.Key != "$lookup" {
		t.Fatalf("stage 1 = %s, want $lookup", lookup.Key)
	}
	wantLookup := bson.M{"from": "categories", "localField": "categoryId", "foreignField": "_id", "as": "category"}
	if !reflect.DeepEqual(lookup.Value, wantLookup) {
		t.Errorf("lookup = %v, want %v", lookup.Value, wantLookup)
	}

	leftUnwind := pipeline[2][0]
	if leftUnwind.Key != "$unwind" {
		t.Fatalf("stage 2 = %s, want $unwind", leftUnwind.Key)
	}
	wantUnwind := bson.M{"path": "$category", "preserveNullAndEmptyArrays": true}
	if !reflect.DeepEqual(leftUnwind.Value, wantUnwind) {
		t.Errorf("unwind = %v, want %v", leftUnwind.Value, wantUnwind)
	}

	innerUnwind := pipeline[4][0]
	wantInner := bson.M{"path": "$supplier", "preserveNullAndEmptyArrays": false}
	if !reflect.DeepEqual(innerUnwind.Value, wantInner) {
		t.Errorf("inner unwind = %v, want %v", innerUnwind.Value, wantInner)
	}

	manyLookup := pipeline[5][0]
	if manyLookup.Key != "$lookup" {
		t.Errorf("stage 5 = %s, want bare $lookup for many-join", manyLookup.Key)
	}
}

func TestBuildPipelinePagination(t *testing.T) {
	s := pipelineFixture(t, false)

	pipeline, err := s.buildPipeline(nil, storage.QueryOptions{
		OrderBy:       "price",
		SortDirection: storage.SortDesc,
		Page:          intPtr(3),
		PageSize:      intPtr(20),
	})
	if err != nil {
		t.Fatalf("buildPipeline: %v", err)
	}

	// sort, facet, project.
	if len(pipeline) != 3 {
		t.Fatalf("pipeline has %d stages, want 3", len(pipeline))
	}

	sortStage := pipeline[0][0]
	if sortStage.Key != "$sort" {
		t.Fatalf("stage 0 = %s, want $sort", sortStage.Key)
	}
	if want := (bson.D{{Key: "price", Value: -1}}); !reflect.DeepEqual(sortStage.Value, want) {
		t.Errorf("sort = %v, want %v", sortStage.Value, want)
	}

	facet := pipeline[1][0]
	if facet.Key != "$facet" {
		t.Fatalf("stage 1 = %s, want $facet", facet.Key)
	}
	results := facet.Value.(bson.M)["results"].(bson.A)
	wantSkip := bson.D{{Key: "$skip", Value: 40}}
	if !reflect.DeepEqual(results[0], wantSkip) {
		t.Errorf("skip = %v, want %v", results[0], wantSkip)
	}
	wantLimit := bson.D{{Key: "$limit", Value: 20}}
	if !reflect.DeepEqual(results[1], wantLimit) {
		t.Errorf("limit = %v, want %v", results[1], wantLimit)
	}

	if project := pipeline[2][0]; project.Key != "$project" {
		t.Errorf("stage 2 = %s, want $project", project.Key)
	}
}

func TestBuildPipelineValidation(t *testing.T) {
	s := pipelineFixture(t, false)

	tests := []struct {
		name    string
		ops     []storage.Operation
		opts    storage.QueryOptions
		wantErr string
	}{
		{
			name:    "missing alias",
			ops:     []storage.Operation{{Kind: storage.JoinLeft, From: "categories", LocalField: "categoryId", ForeignField: "_id"}},
			wantErr: "no alias",
		},
		{
			name: "duplicate alias",
			ops: []storage.Operation{
				storage.LeftJoin("categories", "categoryId", "_id", "category"),
				storage.LeftJoin("categories", "categoryId", "_id", "category"),
			},
			wantErr: "duplicate join alias",
		},
		{
			name:    "alias collides with root field",
			ops:     []storage.Operation{storage.LeftJoin("categories", "categoryId", "_id", "name")},
			wantErr: "collides with a root field",
		},
		{
			name:    "incomplete operation",
			ops:     []storage.Operation{{Kind: storage.JoinLeft, From: "categories", As: "category"}},
			wantErr: "missing from/localField/foreignField",
		},
		{
			name:    "unknown filter field",
			opts:    storage.QueryOptions{Filters: map[string]storage.Predicate{"warehouse": storage.Eq("x")}},
			wantErr: "unknown filter field",
		},
		{
			name:    "unknown sort field",
			opts:    storage.QueryOptions{OrderBy: "warehouse"},
			wantErr: "unknown sort field",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.buildPipeline(tt.ops, tt.opts)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestBuildPipelineTenantFilter(t *testing.T) {
	multi := pipelineFixture(t, true)
	if _, err := multi.buildPipeline(nil, storage.QueryOptions{
		Filters: map[string]storage.Predicate{"_orgId": storage.Eq("o1")},
	}); err != nil {
		t.Errorf("multi-tenant _orgId filter rejected: %v", err)
	}

	single := pipelineFixture(t, false)
	if _, err := single.buildPipeline(nil, storage.QueryOptions{
		Filters: map[string]storage.Predicate{"_orgId": storage.Eq("o1")},
	}); err == nil {
		t.Error("expected single-tenant _orgId filter to be rejected")
	}
}
