package criteria

import (
	"github.com/viant/nanokernel/service/dao"
)

// StateParameter is the parameter name FilterByState matches on.
const StateParameter = "State"

// FilterByState reports whether state satisfies the State parameter, if any.
func FilterByState[S ~string](state S, parameters []*dao.Parameter) bool {
	for _, parameter := range parameters {
		if parameter == nil || parameter.Name != StateParameter {
			continue
		}
		switch actual := parameter.Value.(type) {
		case string:
			return string(state) == actual
		case []string:
			for _, s := range actual {
				if string(state) == s {
					return true
				}
			}
			return false
		}
	}
	return true
}
