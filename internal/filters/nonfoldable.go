package filters

import (
	"sort"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"

	"liquidil/internal/runtime"
)

// registerNonFoldable adds filters that read ambient state (the current
// time, iteration order over live collections) or otherwise cannot be
// proven pure at compile time — they are never offered to fold_const_filters.
func (r *Registry) registerNonFoldable() {
	r.register("date", false, func(in runtime.Value, a []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		var t time.Time
		switch s := asString(in); s {
		case "now", "today":
			t = time.Now()
		default:
			parsed, err := time.Parse(time.RFC3339, s)
			if err != nil {
				parsed, err = time.Parse("2006-01-02", s)
				if err != nil {
					return nil, err
				}
			}
			t = parsed
		}
		layout := asString(arg(a, 0))
		return runtime.String(strftime.Format(layout, t)), nil
	})

	r.register("map", false, func(in runtime.Value, a []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		arr, ok := in.(runtime.Array)
		if !ok {
			return nil, errBadArgs
		}
		key := asString(arg(a, 0))
		out := make(runtime.Array, 0, len(arr))
		for _, e := range arr {
			if h, ok := e.(runtime.Hash); ok {
				if v, ok := h.Get(key); ok {
					out = append(out, v)
					continue
				}
			}
			out = append(out, runtime.Nil{})
		}
		return out, nil
	})

	r.register("where", false, func(in runtime.Value, a []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		arr, ok := in.(runtime.Array)
		if !ok {
			return nil, errBadArgs
		}
		key := asString(arg(a, 0))
		var want runtime.Value = runtime.Bool(true)
		if len(a) > 1 {
			want = arg(a, 1)
		}
		out := make(runtime.Array, 0, len(arr))
		for _, e := range arr {
			h, ok := e.(runtime.Hash)
			if !ok {
				continue
			}
			v, ok := h.Get(key)
			if !ok {
				continue
			}
			if eq, _ := runtime.Equal(v, want); eq {
				out = append(out, e)
			}
		}
		return out, nil
	})

	r.register("sort", false, func(in runtime.Value, a []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		arr, ok := in.(runtime.Array)
		if !ok {
			return nil, errBadArgs
		}
		out := append(runtime.Array(nil), arr...)
		key := ""
		if len(a) > 0 {
			key = asString(arg(a, 0))
		}
		sort.SliceStable(out, func(i, j int) bool {
			return runtime.Format(sortKey(out[i], key)) < runtime.Format(sortKey(out[j], key))
		})
		return out, nil
	})

	r.register("join", false, func(in runtime.Value, a []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		arr, ok := in.(runtime.Array)
		if !ok {
			return nil, errBadArgs
		}
		sep := ", "
		if len(a) > 0 {
			sep = asString(arg(a, 0))
		}
		parts := make([]string, len(arr))
		for i, e := range arr {
			parts[i] = runtime.Format(e)
		}
		return runtime.String(strings.Join(parts, sep)), nil
	})

	r.register("first", false, func(in runtime.Value, _ []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		arr, ok := in.(runtime.Array)
		if !ok || len(arr) == 0 {
			return runtime.Nil{}, nil
		}
		return arr[0], nil
	})

	r.register("last", false, func(in runtime.Value, _ []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		arr, ok := in.(runtime.Array)
		if !ok || len(arr) == 0 {
			return runtime.Nil{}, nil
		}
		return arr[len(arr)-1], nil
	})

	r.register("uniq", false, func(in runtime.Value, _ []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		arr, ok := in.(runtime.Array)
		if !ok {
			return nil, errBadArgs
		}
		seen := make(map[string]bool, len(arr))
		out := make(runtime.Array, 0, len(arr))
		for _, e := range arr {
			k := runtime.Format(e)
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, e)
		}
		return out, nil
	})

	r.register("reverse", false, func(in runtime.Value, _ []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		arr, ok := in.(runtime.Array)
		if !ok {
			return nil, errBadArgs
		}
		out := make(runtime.Array, len(arr))
		for i, e := range arr {
			out[len(arr)-1-i] = e
		}
		return out, nil
	})

	r.register("concat", false, func(in runtime.Value, a []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		arr, ok := in.(runtime.Array)
		if !ok {
			return nil, errBadArgs
		}
		other, ok := arg(a, 0).(runtime.Array)
		if !ok {
			return nil, errBadArgs
		}
		out := append(runtime.Array(nil), arr...)
		return append(out, other...), nil
	})

	r.register("compact", false, func(in runtime.Value, _ []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		arr, ok := in.(runtime.Array)
		if !ok {
			return nil, errBadArgs
		}
		out := make(runtime.Array, 0, len(arr))
		for _, e := range arr {
			if _, isNil := e.(runtime.Nil); isNil {
				continue
			}
			out = append(out, e)
		}
		return out, nil
	})
}

func sortKey(v runtime.Value, key string) runtime.Value {
	if key == "" {
		return v
	}
	if h, ok := v.(runtime.Hash); ok {
		if val, ok := h.Get(key); ok {
			return val
		}
	}
	return runtime.Nil{}
}
