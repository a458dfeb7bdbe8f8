package modelspec

// System field names. They begin with an underscore, are never declared in a
// schema, and are owned by the pipeline: clients cannot set them (tampering
// protection strips them on ingress) and migrations may (system context).
const (
	FieldID        = "_id"
	FieldOrgID     = "_orgId"
	FieldCreated   = "_created"
	FieldCreatedBy = "_createdBy"
	FieldUpdated   = "_updated"
	FieldUpdatedBy = "_updatedBy"
	FieldDeleted   = "_deleted"
	FieldDeletedBy = "_deletedBy"
)

// idSystemFields hold backend-native ids and go through IDSchema coercion.
var idSystemFields = map[string]bool{
	FieldID:        true,
	FieldOrgID:     true,
	FieldCreatedBy: true,
	FieldUpdatedBy: true,
	FieldDeletedBy: true,
}

// timeSystemFields hold timestamps maintained by the audit step.
var timeSystemFields = map[string]bool{
	FieldCreated: true,
	FieldUpdated: true,
	FieldDeleted: true,
}

// IsSystemField reports whether name is pipeline-owned.
func IsSystemField(name string) bool {
	return len(name) > 0 && name[0] == '_'
}

// IDSystemField reports whether name is a system field holding a native id.
func IDSystemField(name string) bool { return idSystemFields[name] }

// TimeSystemField reports whether name is a system field holding a timestamp.
func TimeSystemField(name string) bool { return timeSystemFields[name] }
