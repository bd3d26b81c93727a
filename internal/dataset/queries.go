package dataset

import (
	"github.com/tidwall/gjson"

	"github.com/Aman-CERP/rankfuse/internal/search"
)

// ReadQueries loads queries.jsonl lines of the form {"qid", "query"} in
// file order. Both fields are required.
func ReadQueries(path string) ([]search.Query, error) {
	var out []search.Query
	err := scanJSONL(path, func(lineNo int, rec gjson.Result) error {
		qid, ok := idString(rec.Get("qid"))
		if !ok {
			return malformed(path, lineNo, "missing qid")
		}
		text := rec.Get("query")
		if text.Type != gjson.String {
			return malformed(path, lineNo, "missing query text")
		}
		out = append(out, search.Query{QID: qid, Text: text.Str})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []search.Query{}
	}
	return out, nil
}
