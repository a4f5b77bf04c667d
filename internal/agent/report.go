// Package agent provides the dispatchers that hand tasks to real
// coding agents, either a local agent CLI or the Anthropic API.
package agent

import (
	"encoding/json"
	"strings"
)

// agentReport is the structured tail an agent appends to its output:
// a single JSON object carrying the summary and the files it touched.
type agentReport struct {
	Summary       string   `json:"summary"`
	FilesModified []string `json:"files_modified"`
}

// parseReport extracts the trailing JSON report from agent output.
// Everything before the report is free text and ignored; prose
// containing braces does not confuse the scan because candidates are
// tried from the end of the output backwards.
func parseReport(output string) (agentReport, bool) {
	trimmed := strings.TrimSpace(output)
	for i := strings.LastIndexByte(trimmed, '{'); i >= 0; i = strings.LastIndexByte(trimmed[:i], '{') {
		var rep agentReport
		dec := json.NewDecoder(strings.NewReader(trimmed[i:]))
		if err := dec.Decode(&rep); err != nil {
			continue
		}
		if rep.Summary == "" && rep.FilesModified == nil {
			continue
		}
		return rep, true
	}
	return agentReport{}, false
}
