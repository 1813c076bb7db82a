package chat

// Tool names recognized by the backend.
const (
	ToolWebSearch  = "web_search"
	ToolFileSearch = "file_search"
	ToolCodeRunner = "code_runner"
)

// BaseToolDefaults returns the tool configuration applied to sessions that
// carry no explicit overrides. Callers own the returned map.
func BaseToolDefaults() map[string]bool {
	return map[string]bool{
		ToolWebSearch:  true,
		ToolFileSearch: false,
		ToolCodeRunner: false,
	}
}

// SeedTools merges per-session overrides over the base defaults. Unknown tool
// names in overrides are kept as-is so newer backends can introduce tools
// without a client release.
func SeedTools(overrides map[string]bool) map[string]bool {
	tools := BaseToolDefaults()
	for name, enabled := range overrides {
		tools[name] = enabled
	}
	return tools
}

// EffectiveTools derives the tool set for one completion request. It never
// mutates persisted state: file search is forced on when the request carries
// attachments, for that request only.
func EffectiveTools(tools map[string]bool, hasAttachments bool) map[string]bool {
	out := CloneTools(tools)
	if out == nil {
		out = BaseToolDefaults()
	}
	if hasAttachments {
		out[ToolFileSearch] = true
	}
	return out
}

// CloneTools returns a copy of a tool map, or nil for a nil input.
func CloneTools(tools map[string]bool) map[string]bool {
	if tools == nil {
		return nil
	}
	out := make(map[string]bool, len(tools))
	for name, enabled := range tools {
		out[name] = enabled
	}
	return out
}
