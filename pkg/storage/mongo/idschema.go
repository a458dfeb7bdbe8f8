package mongo

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/stratumhq/stratum-engine/pkg/modelspec"
)

// objectIDSchema converts between 24-hex wire ids and native object ids.
type objectIDSchema struct{}

var _ modelspec.IDSchema = objectIDSchema{}

func (objectIDSchema) Parse(wire string) (any, error) {
	oid, err := primitive.ObjectIDFromHex(wire)
	if err != nil {
		return nil, fmt.Errorf("id must be a 24-character hex string")
	}
	return oid, nil
}

func (objectIDSchema) Format(v any) (string, bool) {
	oid, ok := v.(primitive.ObjectID)
	if !ok {
		return "", false
	}
	return oid.Hex(), true
}

// Allocate mints an id client-side so batch writes know their ids up front.
func (objectIDSchema) Allocate() any {
	return primitive.NewObjectID()
}
