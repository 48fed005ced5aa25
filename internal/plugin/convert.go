package plugin

import (
	"sort"

	lua "github.com/yuin/gopher-lua"
)

// toLua converts JSON-shaped Go values (maps, slices, scalars) to Lua.
func toLua(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(x)
	case string:
		return lua.LString(x)
	case int:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case float64:
		return lua.LNumber(x)
	case []any:
		t := L.CreateTable(len(x), 0)
		for _, el := range x {
			t.Append(toLua(L, el))
		}
		return t
	case []string:
		t := L.CreateTable(len(x), 0)
		for _, el := range x {
			t.Append(lua.LString(el))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(x))
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t.RawSetString(k, toLua(L, x[k]))
		}
		return t
	}
	return lua.LNil
}

// toGo converts a Lua value to plain Go. Tables with keys 1..n become
// slices, other tables maps; functions and cycles become nil.
func toGo(v lua.LValue) any {
	return toGoVisited(v, map[*lua.LTable]bool{})
}

func toGoVisited(v lua.LValue, seen map[*lua.LTable]bool) any {
	switch x := v.(type) {
	case lua.LBool:
		return bool(x)
	case lua.LNumber:
		f := float64(x)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(x)
	case *lua.LTable:
		if seen[x] {
			return nil
		}
		seen[x] = true
		defer delete(seen, x)
		return tableToGo(x, seen)
	}
	return nil
}

func tableToGo(t *lua.LTable, seen map[*lua.LTable]bool) any {
	n := t.Len()
	count := 0
	t.ForEach(func(lua.LValue, lua.LValue) { count++ })

	if n > 0 && n == count {
		out := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			out = append(out, toGoVisited(t.RawGetInt(i), seen))
		}
		return out
	}
	out := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		out[k.String()] = toGoVisited(v, seen)
	})
	return out
}
