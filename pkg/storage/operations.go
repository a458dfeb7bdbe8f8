package storage

import "strings"

// JoinKind discriminates the three join shapes.
type JoinKind string

const (
	// JoinLeft is a one-to-one left join producing `as: object | null`.
	JoinLeft JoinKind = "left"
	// JoinInner drops rows without a match.
	JoinInner JoinKind = "inner"
	// JoinLeftMany aggregates matches into `as: array`, [] when none.
	JoinLeftMany JoinKind = "leftMany"
)

// Operation declares one edge of a query graph. LocalField may be
// "alias.field" to reference a previous operation's result, which is how
// many-to-many paths chain.
type Operation struct {
	Kind         JoinKind
	From         string
	LocalField   string
	ForeignField string
	As           string
}

// LeftJoin declares a one-to-one left join.
func LeftJoin(from, localField, foreignField, as string) Operation {
	return Operation{Kind: JoinLeft, From: from, LocalField: localField, ForeignField: foreignField, As: as}
}

// InnerJoin declares a one-to-one join that drops rows without a match.
func InnerJoin(from, localField, foreignField, as string) Operation {
	return Operation{Kind: JoinInner, From: from, LocalField: localField, ForeignField: foreignField, As: as}
}

// LeftJoinMany declares a one-to-many join aggregating matches into an array.
func LeftJoinMany(from, localField, foreignField, as string) Operation {
	return Operation{Kind: JoinLeftMany, From: from, LocalField: localField, ForeignField: foreignField, As: as}
}

// LocalRef splits LocalField into an alias qualifier and a field name. The
// alias is empty when the field is anchored on the root table.
func (op Operation) LocalRef() (alias, field string) {
	if i := strings.IndexByte(op.LocalField, '.'); i >= 0 {
		return op.LocalField[:i], op.LocalField[i+1:]
	}
	return "", op.LocalField
}
