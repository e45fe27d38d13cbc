package filters

import (
	"encoding/base64"
	"encoding/json"
	"html"
	"math"
	"net/url"
	"strings"

	"github.com/dustin/go-humanize"

	"liquidil/internal/runtime"
)

func (r *Registry) registerFoldable() {
	r.register("append", true, func(in runtime.Value, a []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		return runtime.String(asString(in) + asString(arg(a, 0))), nil
	})
	r.register("prepend", true, func(in runtime.Value, a []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		return runtime.String(asString(arg(a, 0)) + asString(in)), nil
	})
	r.register("capitalize", true, func(in runtime.Value, _ []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		s := asString(in)
		if s == "" {
			return runtime.String(""), nil
		}
		return runtime.String(strings.ToUpper(s[:1]) + s[1:]), nil
	})
	r.register("downcase", true, func(in runtime.Value, _ []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		return runtime.String(strings.ToLower(asString(in))), nil
	})
	r.register("upcase", true, func(in runtime.Value, _ []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		return runtime.String(strings.ToUpper(asString(in))), nil
	})
	r.register("size", true, func(in runtime.Value, _ []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		switch t := in.(type) {
		case runtime.Array:
			return runtime.Int(len(t)), nil
		case runtime.Hash:
			return runtime.Int(t.Len()), nil
		default:
			return runtime.Int(len([]rune(asString(in)))), nil
		}
	})
	r.register("bytes_to_human", true, func(in runtime.Value, _ []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		n, ok := asFloat(in)
		if !ok || n < 0 {
			return nil, errBadArgs
		}
		return runtime.String(humanize.Bytes(uint64(n))), nil
	})

	r.register("plus", true, arithmetic(func(a, b float64) float64 { return a + b }))
	r.register("minus", true, arithmetic(func(a, b float64) float64 { return a - b }))
	r.register("times", true, arithmetic(func(a, b float64) float64 { return a * b }))
	r.register("divided_by", true, func(in runtime.Value, a []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		x, ok1 := asFloat(in)
		y, ok2 := asFloat(arg(a, 0))
		if !ok1 || !ok2 {
			return nil, errBadArgs
		}
		if y == 0 {
			return nil, errBadArgs
		}
		if xi, ok := in.(runtime.Int); ok {
			if yi, ok := arg(a, 0).(runtime.Int); ok {
				return runtime.Int(int64(xi) / int64(yi)), nil
			}
		}
		return runtime.Float(x / y), nil
	})
	r.register("modulo", true, func(in runtime.Value, a []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		x, ok1 := asFloat(in)
		y, ok2 := asFloat(arg(a, 0))
		if !ok1 || !ok2 || y == 0 {
			return nil, errBadArgs
		}
		return runtime.Float(math.Mod(x, y)), nil
	})
	r.register("abs", true, func(in runtime.Value, _ []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		if xi, ok := in.(runtime.Int); ok {
			if xi < 0 {
				return -xi, nil
			}
			return xi, nil
		}
		x, ok := asFloat(in)
		if !ok {
			return nil, errBadArgs
		}
		return runtime.Float(math.Abs(x)), nil
	})
	r.register("ceil", true, roundingFilter(math.Ceil))
	r.register("floor", true, roundingFilter(math.Floor))
	r.register("round", true, func(in runtime.Value, a []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		x, ok := asFloat(in)
		if !ok {
			return nil, errBadArgs
		}
		if len(a) == 0 {
			return runtime.Int(int64(math.Round(x))), nil
		}
		prec, ok := asInt(arg(a, 0))
		if !ok {
			return nil, errBadArgs
		}
		mult := math.Pow(10, float64(prec))
		return runtime.Float(math.Round(x*mult) / mult), nil
	})
	r.register("at_least", true, func(in runtime.Value, a []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		x, ok1 := asFloat(in)
		y, ok2 := asFloat(arg(a, 0))
		if !ok1 || !ok2 {
			return nil, errBadArgs
		}
		if x < y {
			return arg(a, 0), nil
		}
		return in, nil
	})
	r.register("at_most", true, func(in runtime.Value, a []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		x, ok1 := asFloat(in)
		y, ok2 := asFloat(arg(a, 0))
		if !ok1 || !ok2 {
			return nil, errBadArgs
		}
		if x > y {
			return arg(a, 0), nil
		}
		return in, nil
	})

	r.register("strip", true, func(in runtime.Value, _ []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		return runtime.String(strings.TrimSpace(asString(in))), nil
	})
	r.register("lstrip", true, func(in runtime.Value, _ []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		return runtime.String(strings.TrimLeft(asString(in), " \t\n\r")), nil
	})
	r.register("rstrip", true, func(in runtime.Value, _ []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		return runtime.String(strings.TrimRight(asString(in), " \t\n\r")), nil
	})
	r.register("strip_newlines", true, func(in runtime.Value, _ []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		s := strings.ReplaceAll(asString(in), "\r\n", "")
		return runtime.String(strings.ReplaceAll(s, "\n", "")), nil
	})
	r.register("newline_to_br", true, func(in runtime.Value, _ []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		return runtime.String(strings.ReplaceAll(asString(in), "\n", "<br />\n")), nil
	})
	r.register("escape", true, func(in runtime.Value, _ []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		return runtime.String(html.EscapeString(asString(in))), nil
	})
	r.register("escape_once", true, func(in runtime.Value, _ []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		s := asString(in)
		if strings.ContainsAny(s, "&<>\"'") && !looksEscaped(s) {
			return runtime.String(html.EscapeString(s)), nil
		}
		return runtime.String(s), nil
	})
	r.register("url_encode", true, func(in runtime.Value, _ []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		return runtime.String(url.QueryEscape(asString(in))), nil
	})
	r.register("url_decode", true, func(in runtime.Value, _ []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		s, err := url.QueryUnescape(asString(in))
		if err != nil {
			return nil, err
		}
		return runtime.String(s), nil
	})

	r.register("remove", true, func(in runtime.Value, a []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		return runtime.String(strings.ReplaceAll(asString(in), asString(arg(a, 0)), "")), nil
	})
	r.register("remove_first", true, func(in runtime.Value, a []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		return runtime.String(strings.Replace(asString(in), asString(arg(a, 0)), "", 1)), nil
	})
	r.register("replace", true, func(in runtime.Value, a []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		return runtime.String(strings.ReplaceAll(asString(in), asString(arg(a, 0)), asString(arg(a, 1)))), nil
	})
	r.register("replace_first", true, func(in runtime.Value, a []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		return runtime.String(strings.Replace(asString(in), asString(arg(a, 0)), asString(arg(a, 1)), 1)), nil
	})
	r.register("slice", true, func(in runtime.Value, a []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		runes := []rune(asString(in))
		start, ok := asInt(arg(a, 0))
		if !ok {
			return nil, errBadArgs
		}
		if start < 0 {
			start += int64(len(runes))
		}
		length := int64(1)
		if len(a) > 1 {
			l, ok := asInt(arg(a, 1))
			if !ok {
				return nil, errBadArgs
			}
			length = l
		}
		if start < 0 || start > int64(len(runes)) {
			return runtime.String(""), nil
		}
		end := start + length
		if end > int64(len(runes)) {
			end = int64(len(runes))
		}
		return runtime.String(string(runes[start:end])), nil
	})
	r.register("truncate", true, func(in runtime.Value, a []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		runes := []rune(asString(in))
		n, ok := asInt(arg(a, 0))
		if !ok {
			return nil, errBadArgs
		}
		suffix := "..."
		if len(a) > 1 {
			suffix = asString(arg(a, 1))
		}
		if int64(len(runes)) <= n {
			return runtime.String(string(runes)), nil
		}
		cut := n - int64(len([]rune(suffix)))
		if cut < 0 {
			cut = 0
		}
		return runtime.String(string(runes[:cut]) + suffix), nil
	})
	r.register("truncatewords", true, func(in runtime.Value, a []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		words := strings.Fields(asString(in))
		n, ok := asInt(arg(a, 0))
		if !ok {
			return nil, errBadArgs
		}
		suffix := "..."
		if len(a) > 1 {
			suffix = asString(arg(a, 1))
		}
		if int64(len(words)) <= n {
			return runtime.String(strings.Join(words, " ")), nil
		}
		return runtime.String(strings.Join(words[:n], " ") + suffix), nil
	})
	r.register("default", true, func(in runtime.Value, a []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		if !runtime.Truthy(in) {
			return arg(a, 0), nil
		}
		return in, nil
	})
	r.register("json", true, func(in runtime.Value, _ []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		b, err := json.Marshal(toPlain(in))
		if err != nil {
			return nil, err
		}
		return runtime.String(b), nil
	})
	r.register("t", true, func(in runtime.Value, _ []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		// translation passthrough: no locale catalog is part of this domain.
		return runtime.String(asString(in)), nil
	})
	r.register("base64_encode", true, func(in runtime.Value, _ []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		return runtime.String(base64.StdEncoding.EncodeToString([]byte(asString(in)))), nil
	})
	r.register("base64_decode", true, func(in runtime.Value, _ []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		b, err := base64.StdEncoding.DecodeString(asString(in))
		if err != nil {
			return nil, err
		}
		return runtime.String(b), nil
	})
	r.register("base64_url_safe_encode", true, func(in runtime.Value, _ []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		return runtime.String(base64.URLEncoding.EncodeToString([]byte(asString(in)))), nil
	})
	r.register("base64_url_safe_decode", true, func(in runtime.Value, _ []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		b, err := base64.URLEncoding.DecodeString(asString(in))
		if err != nil {
			return nil, err
		}
		return runtime.String(b), nil
	})
}

func arithmetic(op func(a, b float64) float64) Func {
	return func(in runtime.Value, a []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		x, ok1 := asFloat(in)
		y, ok2 := asFloat(arg(a, 0))
		if !ok1 || !ok2 {
			return nil, errBadArgs
		}
		_, xInt := in.(runtime.Int)
		_, yInt := arg(a, 0).(runtime.Int)
		if xInt && yInt {
			return runtime.Int(int64(op(x, y))), nil
		}
		return runtime.Float(op(x, y)), nil
	}
}

func roundingFilter(op func(float64) float64) Func {
	return func(in runtime.Value, _ []runtime.Value, _ *runtime.Scope) (runtime.Value, error) {
		x, ok := asFloat(in)
		if !ok {
			return nil, errBadArgs
		}
		return runtime.Int(int64(op(x))), nil
	}
}

func looksEscaped(s string) bool {
	return strings.Contains(s, "&amp;") || strings.Contains(s, "&lt;") || strings.Contains(s, "&gt;")
}

func toPlain(v runtime.Value) interface{} {
	switch t := v.(type) {
	case runtime.Nil:
		return nil
	case runtime.Bool:
		return bool(t)
	case runtime.Int:
		return int64(t)
	case runtime.Float:
		return float64(t)
	case runtime.String:
		return string(t)
	case runtime.Empty, runtime.Blank:
		return nil
	case runtime.Array:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = toPlain(e)
		}
		return out
	case runtime.Hash:
		out := make(map[string]interface{}, t.Len())
		for _, k := range t.Keys() {
			val, _ := t.Get(k)
			out[k] = toPlain(val)
		}
		return out
	default:
		return nil
	}
}
