package remotedb

import (
	"encoding/json"
	"sort"
	"strconv"
)

// document is a decoded payload. The engine stores execution data either as
// plain JSON or in the "flatted" encoding: a JSON array whose first element
// is the root and in which every nested object, array and string is replaced
// by the string form of its index in the array.
type document struct {
	root any
	refs []any // nil for plain JSON
}

func decodeDocument(raw []byte) (document, bool) {
	if len(raw) == 0 {
		return document{}, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return document{}, false
	}
	if arr, ok := v.([]any); ok && len(arr) > 0 {
		if _, isObj := arr[0].(map[string]any); isObj {
			return document{root: arr[0], refs: arr}, true
		}
	}
	return document{root: v}, true
}

// resolve follows a flatted index reference. Plain documents pass through.
func (d document) resolve(v any) any {
	if d.refs == nil {
		return v
	}
	s, ok := v.(string)
	if !ok {
		return v
	}
	i, err := strconv.Atoi(s)
	if err != nil || i < 0 || i >= len(d.refs) {
		return v
	}
	return d.refs[i]
}

func (d document) field(v any, key string) any {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	child, ok := obj[key]
	if !ok {
		return nil
	}
	return d.resolve(child)
}

func (d document) path(keys ...string) any {
	v := d.root
	for _, k := range keys {
		v = d.field(v, k)
		if v == nil {
			return nil
		}
	}
	return v
}

func (d document) errorMessage(errObj any) string {
	for _, key := range []string{"message", "description"} {
		if s, ok := d.field(errObj, key).(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// ParseExecutionData extracts the error message from an execution payload.
// It prefers the run-level error and falls back to the first failing node,
// by node name. It returns "" when the payload holds no error or cannot be
// decoded.
func ParseExecutionData(raw []byte) string {
	doc, ok := decodeDocument(raw)
	if !ok {
		return ""
	}
	if msg := doc.errorMessage(doc.path("resultData", "error")); msg != "" {
		return msg
	}

	runData, ok := doc.path("resultData", "runData").(map[string]any)
	if !ok {
		return ""
	}
	names := make([]string, 0, len(runData))
	for name := range runData {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		runs, ok := doc.resolve(runData[name]).([]any)
		if !ok {
			continue
		}
		for _, run := range runs {
			if msg := doc.errorMessage(doc.field(doc.resolve(run), "error")); msg != "" {
				return msg
			}
		}
	}
	return ""
}

// CountNodes returns the number of nodes in a workflow definition, or 0 when
// the definition is absent or malformed.
func CountNodes(workflowData []byte) int {
	doc, ok := decodeDocument(workflowData)
	if !ok {
		return 0
	}
	nodes, ok := doc.path("nodes").([]any)
	if !ok {
		return 0
	}
	return len(nodes)
}
