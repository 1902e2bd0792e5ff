package interview

import (
	"strings"
)

const baseInstruction = `You are a professional interviewer running a realistic spoken mock interview.
Ask one question at a time and wait for the candidate to answer before continuing.
Ground your questions in the candidate's resume and the job description below.
Ask natural follow-up questions when an answer is vague or incomplete.
Keep each question short enough to be spoken aloud. Do not use markdown or lists.
Open by greeting the candidate and asking them to introduce themselves.`

const maxSectionRunes = 12000

// BuildInstruction composes the system instruction for a live interview.
func BuildInstruction(c Context) string {
	var b strings.Builder
	b.WriteString(baseInstruction)

	if title := strings.TrimSpace(c.Title); title != "" {
		b.WriteString("\n\nPosition: ")
		b.WriteString(title)
	}
	writeSection(&b, "Job description", c.JobDescription)
	writeSection(&b, "Candidate resume", c.Resume)
	writeSection(&b, "Additional interviewer guidance", c.EnhancedPrompt)
	return b.String()
}

func writeSection(b *strings.Builder, heading, body string) {
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}
	b.WriteString("\n\n")
	b.WriteString(heading)
	b.WriteString(":\n")
	b.WriteString(truncateRunes(body, maxSectionRunes))
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
