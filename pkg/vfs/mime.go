package vfs

func defaultMIMETypes() map[string]string {
	return map[string]string{
		"txt":        "text/plain",
		"md":         "text/markdown",
		"go":         "text/x-go",
		"java":       "text/x-java",
		"properties": "text/x-properties",
		"xml":        "text/xml",
		"html":       "text/html",
		"yaml":       "text/yaml",
		"yml":        "text/yaml",
		"json":       "application/json",
		"instance":   "application/x-instance",
		"settings":   "application/x-settings",
		"shadow":     "application/x-shadow",
		"png":        "image/png",
		"gif":        "image/gif",
	}
}
