package workflow

import "mindia/internal/models"

// Matches implements spec §4.L's filter semantics: media_types, folder_ids,
// and content_types are disjunctions within their own list and conjunctions
// across lists (every non-empty list must match); metadata_filter is a
// subset match over the media's own metadata.
func Matches(filters models.WorkflowFilters, media models.Media) bool {
	if len(filters.MediaTypes) > 0 && !containsMediaType(filters.MediaTypes, media.Type) {
		return false
	}
	if len(filters.FolderIDs) > 0 && !containsFolder(filters.FolderIDs, media.FolderID) {
		return false
	}
	if len(filters.ContentTypes) > 0 && !containsString(filters.ContentTypes, media.ContentType) {
		return false
	}
	for key, want := range filters.MetadataFilter {
		got, ok := media.Metadata[key]
		if !ok || !equalJSONValue(got, want) {
			return false
		}
	}
	return true
}

func containsMediaType(list []models.MediaType, t models.MediaType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsFolder(list []string, folderID *string) bool {
	if folderID == nil {
		return false
	}
	return containsString(list, *folderID)
}

// equalJSONValue compares two values decoded from JSON (map[string]any),
// where scalars compare directly and numbers may differ in underlying Go
// type (int vs float64) depending on how the filter was constructed.
func equalJSONValue(a, b any) bool {
	af, aIsFloat := toFloat(a)
	bf, bIsFloat := toFloat(b)
	if aIsFloat && bIsFloat {
		return af == bf
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
