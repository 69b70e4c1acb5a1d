package decision

import "strings"

// Inference is the layer/tag quick_set infers from a key's first path
// segment (the exact prefix table isn't enumerated in
// the source spec, so this repo defines it explicitly and tests it).
type Inference struct {
	Layer string
	Tag   string
}

// prefixTable maps a key's leading path segment to its inferred layer and
// tag. Segments not listed here fall back to cross-cutting with no
// inferred tag.
var prefixTable = map[string]Inference{
	"api":   {Layer: "business", Tag: "api"},
	"data":  {Layer: "data", Tag: "data"},
	"ui":    {Layer: "presentation", Tag: "ui"},
	"infra": {Layer: "infrastructure", Tag: "infra"},
	"test":  {Layer: "cross-cutting", Tag: "test"},
}

// InferFromPrefix extracts the segment before the first "/" in key and
// looks it up in prefixTable.
func InferFromPrefix(key string) Inference {
	seg := key
	if i := strings.IndexByte(key, '/'); i >= 0 {
		seg = key[:i]
	}
	if inf, ok := prefixTable[strings.ToLower(seg)]; ok {
		return inf
	}
	return Inference{Layer: "cross-cutting"}
}
