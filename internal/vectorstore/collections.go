package vectorstore

import "strings"

// CollectionName derives the collection for a knowledge base and embedding
// model. A knowledge base keeps one collection per model its policy names,
// so differently-dimensioned embeddings never share a collection.
func CollectionName(kbID, model string) string {
	return kbID + "__" + sanitizeModel(model)
}

func sanitizeModel(model string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(model) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
