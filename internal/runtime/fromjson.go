package runtime

// FromJSON converts an already-unmarshaled encoding/json value (the
// map[string]interface{}/[]interface{}/string/float64/bool/nil shapes
// json.Unmarshal produces into `interface{}`) into the closed Value model,
// so CLI-supplied data files can seed a render Scope.
func FromJSON(v interface{}) Value {
	switch x := v.(type) {
	case nil:
		return Nil{}
	case bool:
		return Bool(x)
	case float64:
		if x == float64(int64(x)) {
			return Int(int64(x))
		}
		return Float(x)
	case string:
		return String(x)
	case []interface{}:
		arr := make(Array, len(x))
		for i, e := range x {
			arr[i] = FromJSON(e)
		}
		return arr
	case map[string]interface{}:
		keys := make([]string, 0, len(x))
		values := make(map[string]Value, len(x))
		for k, e := range x {
			keys = append(keys, k)
			values[k] = FromJSON(e)
		}
		return NewHash(keys, values)
	default:
		return Nil{}
	}
}
