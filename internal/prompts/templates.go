package prompts

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/prompts"
)

const systemTemplate = `You are {{.assistant_name}}, an AI assistant specialized in NFTs, crypto tokens, and creative content generation for the {{.platform}} platform.

Your capabilities include:
- Searching and recommending NFT collections from OpenSea
- Analyzing NFT trends and pricing data
- Suggesting creative scenes for video generation
- Helping users find reference images for their projects
- Providing information about crypto tokens and wallets
{{if .tools_enabled}}
IMPORTANT - TOOL USAGE:
- To load/display individual NFTs from a collection, use the "search_items" tool with the collection slug. This returns actual NFT images.
- Use "get_collections" only for collection metadata (floor price, stats, etc.), not for displaying NFT images.
- Use "search_items" with collection parameter to get individual NFT items with images.

When users ask about NFTs or want to see items from a collection, use search_items to get real NFT images that can be displayed.
{{end}}
UI ACTIONS:
You can drive the app by embedding markers in your reply, for example [ACTION:LOAD_COLLECTION:azuki] or [ACTION:SET_PAGE:azuki:3]. Markers are hidden from the user.

Be helpful, concise, and focus on actionable suggestions for creative projects.`

const FallbackMessage = "I've completed processing but have no response to give."

// SystemPrompt renders the fixed assistant persona.
type SystemPrompt struct {
	template prompts.PromptTemplate
	name     string
	platform string
}

func NewSystemPrompt(assistantName, platform string) *SystemPrompt {
	return &SystemPrompt{
		template: prompts.NewPromptTemplate(systemTemplate, []string{"assistant_name", "platform", "tools_enabled"}),
		name:     assistantName,
		platform: platform,
	}
}

// Build returns the system prompt; the tool guidance section is only
// included when tools are offered to the model.
func (s *SystemPrompt) Build(toolsEnabled bool) (string, error) {
	text, err := s.template.Format(map[string]any{
		"assistant_name": s.name,
		"platform":       s.platform,
		"tools_enabled":  toolsEnabled,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render system prompt: %w", err)
	}
	return text, nil
}

// ActionDirective is a UI instruction embedded in the model's reply as
// [ACTION:<type>:<param1>:<param2?>].
type ActionDirective struct {
	Type   string `json:"type"`
	Param1 string `json:"param1"`
	Param2 *int   `json:"param2"`
}

var (
	actionPattern = regexp.MustCompile(`\[ACTION:(\w+):([^\]:]+):?(\d+)?\]`)
	actionMarker  = regexp.MustCompile(`\[ACTION:[^\]]+\]`)
)

// ExtractActions parses every action marker in text and returns the text
// with all markers removed and surrounding whitespace trimmed.
func ExtractActions(text string) (string, []ActionDirective) {
	actions := []ActionDirective{}
	for _, match := range actionPattern.FindAllStringSubmatch(text, -1) {
		action := ActionDirective{Type: match[1], Param1: match[2]}
		if match[3] != "" {
			if n, err := strconv.Atoi(match[3]); err == nil {
				action.Param2 = &n
			}
		}
		actions = append(actions, action)
	}

	cleaned := actionMarker.ReplaceAllString(text, "")
	return strings.TrimSpace(cleaned), actions
}
