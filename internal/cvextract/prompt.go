package cvextract

import (
	"fmt"

	"github.com/kormo-connect/backend/internal/ai"
)

const extractionInstructions = `Read the CV and return the candidate's details as a JSON object with exactly these keys:
{
  "first_name": "",
  "last_name": "",
  "skills": "comma separated list of skills",
  "work_experience": "short summary of roles, employers and years",
  "education": "degrees and institutions",
  "phone_number": ""
}
Use an empty string for anything the CV does not state. Return only the JSON object.`

func buildPrompt(filename, mimeType string, data []byte) ai.Prompt {
	if mimeType == "text/plain" {
		return ai.Prompt{
			Text:    fmt.Sprintf("%s\n\nCV (%s):\n%s", extractionInstructions, filename, string(data)),
			Options: extractionOptions,
		}
	}
	return ai.Prompt{
		Text:       fmt.Sprintf("%s\n\nThe CV file %q is attached.", extractionInstructions, filename),
		Attachment: &ai.Attachment{MIMEType: mimeType, Data: data},
		Options:    extractionOptions,
	}
}
