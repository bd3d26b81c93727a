package dataset

import (
	"sort"

	"github.com/tidwall/gjson"
)

// DefaultMinRelevance is the lowest grade counted as relevant.
const DefaultMinRelevance = 1

// Qrels maps qid to its set of relevant doc ids. Queries with no doc at
// or above the relevance threshold are absent.
type Qrels map[string]map[string]struct{}

// QIDs returns the judged query ids, sorted.
func (q Qrels) QIDs() []string {
	ids := make([]string, 0, len(q))
	for id := range q {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ReadQrels loads qrels.jsonl lines {"qid", "doc_id", "relevance"}.
// A judgement counts when relevance >= minRel; a missing grade is 0.
func ReadQrels(path string, minRel int) (Qrels, error) {
	qrels := make(Qrels)
	err := scanJSONL(path, func(lineNo int, rec gjson.Result) error {
		res := rec.GetMany("qid", "doc_id", "relevance")
		qid, ok := idString(res[0])
		if !ok {
			return malformed(path, lineNo, "missing qid")
		}
		docID, ok := idString(res[1])
		if !ok {
			return malformed(path, lineNo, "missing doc_id")
		}
		if int(res[2].Int()) < minRel {
			return nil
		}
		rel, ok := qrels[qid]
		if !ok {
			rel = make(map[string]struct{})
			qrels[qid] = rel
		}
		rel[docID] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return qrels, nil
}
