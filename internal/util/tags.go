package util

// ResourceTags flattens the tags of a resource into a map. AWS resources carry
// "Tags" as a list of {Key, Value} pairs (some services use a plain map);
// GCP resources carry "labels".
func ResourceTags(resource map[string]interface{}) map[string]string {
	out := make(map[string]string)
	switch tags := resource["Tags"].(type) {
	case []interface{}:
		for _, raw := range tags {
			kv, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			key := SafeStringFromMap(kv, "Key")
			if key == "" {
				continue
			}
			out[key] = Stringify(kv["Value"])
		}
	case map[string]interface{}:
		for k, v := range tags {
			out[k] = Stringify(v)
		}
	}
	for k, v := range SafeNestedMap(resource, "labels") {
		if _, exists := out[k]; !exists {
			out[k] = Stringify(v)
		}
	}
	return out
}

// TagValues returns the non-empty values of the given tag keys, in key order.
func TagValues(resource map[string]interface{}, keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	tags := ResourceTags(resource)
	var out []string
	for _, k := range keys {
		if v, ok := tags[k]; ok && v != "" {
			out = append(out, v)
		}
	}
	return out
}
