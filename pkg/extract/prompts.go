package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// buildExtractionSystemPrompt creates the system prompt for structured
// extraction.
func buildExtractionSystemPrompt() string {
	var prompt strings.Builder

	prompt.WriteString("You are extracting content on behalf of a user. ")
	prompt.WriteString("You will be given an instruction and the text content of a web page, ")
	prompt.WriteString("where each line is a piece of visible page text followed by its normalized position in the viewport.\n\n")
	prompt.WriteString("Return the extracted data exactly matching the requested schema. ")
	prompt.WriteString("If previously extracted content is provided, extend and correct it rather than starting over. ")
	prompt.WriteString("Set the completed flag to true only when the extraction fully satisfies the instruction; ")
	prompt.WriteString("set it to false when required data is missing from the page content.")

	return prompt.String()
}

// buildExtractionUserPrompt creates the user prompt embedding the page
// content, the instruction, and any previously extracted content.
func buildExtractionUserPrompt(instruction, pageText string, priorContent map[string]interface{}) string {
	var prompt strings.Builder

	prompt.WriteString(fmt.Sprintf("Instruction: %s\n\n", instruction))

	if len(priorContent) > 0 {
		if encoded, err := json.Marshal(priorContent); err == nil {
			prompt.WriteString(fmt.Sprintf("Previously extracted content: %s\n\n", encoded))
		}
	}

	prompt.WriteString("Page content:\n")
	prompt.WriteString(pageText)

	return prompt.String()
}
