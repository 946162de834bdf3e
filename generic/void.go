package generic

// Void is the value type for results that only carry an error.
type Void = struct{}

func NewVoid() Void {
	return Void{}
}
