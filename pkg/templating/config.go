package templating

// TemplateConfig holds the options for loading templates from disk.
type TemplateConfig struct {
	// Pattern is the glob, matched against file names, that Refresh uses to
	// find page templates.
	Pattern string `json:"pattern"`

	// CacheTemplates keeps parsed templates in memory between requests.
	// When false every lookup reads the file again.
	CacheTemplates bool `json:"cache_templates"`

	// MaxTemplateBytes rejects template files larger than this. Zero disables the check.
	MaxTemplateBytes int64 `json:"max_template_bytes"`
}

// DefaultConfig returns a TemplateConfig with the default page template
// pattern and a 1MB size limit.
func DefaultConfig() *TemplateConfig {
	return &TemplateConfig{
		Pattern:          "*_template.html",
		CacheTemplates:   true,
		MaxTemplateBytes: 1 << 20, // 1MB
	}
}
