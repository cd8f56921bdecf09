package dao

// Parameter is a named List criterion.
type Parameter struct {
	Name  string
	Value interface{}
}

// NewParameter creates a criterion; several values mean "any of".
func NewParameter(name string, values ...string) *Parameter {
	if len(values) == 1 {
		return &Parameter{Name: name, Value: values[0]}
	}
	return &Parameter{Name: name, Value: values}
}
