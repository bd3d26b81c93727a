package dataset

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/Aman-CERP/rankfuse/internal/search"
	"github.com/Aman-CERP/rankfuse/internal/store"
)

// DocText joins title and body the way the corpus is indexed and scored:
// trimmed "title\ntext", cut to maxChars characters when maxChars > 0.
func DocText(title, text string, maxChars int) string {
	s := strings.TrimSpace(title + "\n" + text)
	if maxChars > 0 {
		// Count runes, not bytes, so multi-byte text is never split.
		n := 0
		for i := range s {
			if n == maxChars {
				return s[:i]
			}
			n++
		}
	}
	return s
}

// ScanDocs streams docs.jsonl lines {"doc_id", "title", "text"} to fn.
// Lines without a doc_id are skipped and reported to anomaly.
func ScanDocs(path string, maxChars int, anomaly AnomalyFunc, fn func(doc *store.Document) error) error {
	return scanJSONL(path, func(lineNo int, rec gjson.Result) error {
		res := rec.GetMany("doc_id", "title", "text")
		id, ok := idString(res[0])
		if !ok || id == "" {
			if anomaly != nil {
				anomaly(skipped(path, lineNo, "doc has no doc_id"))
			}
			return nil
		}
		return fn(&store.Document{ID: id, Content: DocText(res[1].String(), res[2].String(), maxChars)})
	})
}

// LoadDocTexts reads the whole corpus into a doc_id -> text lookup for the
// rerank stage. A repeated doc_id keeps its last text.
func LoadDocTexts(path string, maxChars int, anomaly AnomalyFunc) (search.DocTexts, error) {
	texts := make(search.DocTexts)
	err := ScanDocs(path, maxChars, anomaly, func(doc *store.Document) error {
		texts[doc.ID] = doc.Content
		return nil
	})
	if err != nil {
		return nil, err
	}
	return texts, nil
}
