package flows

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

const (
	tmplSuggestStoryStart      = "suggest_story_start.tmpl"
	tmplGenerateNewStoryline   = "generate_new_storyline.tmpl"
	tmplGenerateBranchingPaths = "generate_branching_paths.tmpl"
	tmplSummarizeStory         = "summarize_story.tmpl"
)

const storytellerInstruction = `You are a creative story writer guiding an interactive, branching story.
Keep the tone consistent with the genre and continue from what has already happened.
Respond with a single JSON object and nothing else.`

// Описание формата ответа для каждого flow, добавляется к системному промту.
var outputFormats = map[string]string{
	FlowSuggestStoryStart: `JSON format:
{"storyline": "opening of the story", "branchingPaths": ["choice 1", "choice 2", "choice 3"], "characters": [{"name": "name", "description": "short description"}]}
"characters" is optional.`,
	FlowGenerateNewStoryline: `JSON format:
{"newStoryline": "the next part of the story"}`,
	FlowGenerateBranchingPaths: `JSON format:
{"branchingPaths": ["choice 1", "choice 2", "choice 3"]}`,
	FlowSummarizeStory: `JSON format:
{"finalTitle": "new title", "conclusion": "concluding paragraph"}`,
}

func loadTemplates() (*template.Template, error) {
	tmpl, err := template.New("prompts").Option("missingkey=error").ParseFS(promptFS, "prompts/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt templates: %w", err)
	}
	return tmpl, nil
}

func systemPrompt(flow string) string {
	return storytellerInstruction + "\n\n" + outputFormats[flow]
}

func renderPrompt(tmpl *template.Template, name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render prompt %s: %w", name, err)
	}
	return buf.String(), nil
}
