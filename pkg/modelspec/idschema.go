package modelspec

// IDSchema converts between wire ids (always strings) and a backend's native
// id type. Each storage adapter provides one.
type IDSchema interface {
	// Parse converts a wire id to the native type. The error message is
	// client-safe; callers wrap it as BadRequest or Validation.
	Parse(wire string) (any, error)
	// Format converts a native id to its wire form. ok is false when v is not
	// this backend's id type, which lets encoders probe nested values.
	Format(v any) (wire string, ok bool)
	// Allocate returns a fresh native id, or nil when the backend assigns ids
	// itself (serial columns).
	Allocate() any
}
