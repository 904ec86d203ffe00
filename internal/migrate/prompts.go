package migrate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Satyacharanv/CodeConversionAI/internal/docs"
)

const agentSystemPrompt = "You are a helpful AI assistant that uses tools to solve problems."

const fileSystemPrompt = `You are a code migration assistant. Reply with a single JSON object with exactly two string fields:
"migrated_code": the complete, updated file content
"summary": 1-3 sentences describing what changed in this file`

// maxListedDocs caps how many catalog entries are named in the documentation prompt.
const maxListedDocs = 20

func structurePrompt(uploadsDir string) string {
	return fmt.Sprintf(`STEP 1: Analyze Project Structure for Code Migration
- Scan the uploaded project files in: %s
- Get the complete file and folder structure (use describe_tree and list_directory)
- Return a summary of the project structure and key points to be noted for migration
Focus ONLY on understanding the project structure in this step.`, uploadsDir)
}

func documentationPrompt(documentsDir string, req Request, matches []docs.Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, `STEP 2: Review Version Documentation
- Check the documentation for version changes in: %s
- Identify key changes needed for migrating from %s to %s in %s
- List the main changes and migration steps needed
Focus ONLY on understanding the version changes in this step.`, documentsDir, req.FromVersion, req.ToVersion, req.Language)

	if len(matches) > 0 {
		b.WriteString("\n\nDocuments most likely to be relevant (read them with read_file):\n")
		for i, d := range matches {
			if i == maxListedDocs {
				fmt.Fprintf(&b, "- ... and %d more\n", len(matches)-maxListedDocs)
				break
			}
			fmt.Fprintf(&b, "- %s (%s)\n", d.Path, d.Title)
		}
	}
	return b.String()
}

type filePrompt struct {
	Context      string   `json:"context"`
	Instructions []string `json:"instructions"`
}

func migrationPrompt(req Request, structure, versionNotes, content string) (string, error) {
	p := filePrompt{
		Context: fmt.Sprintf("You are a senior %[1]s developer and code migration assistant. "+
			"Your task is to update the following file from version %[2]s to %[3]s for the %[1]s language.\n\n"+
			"Project Structure Analysis:\nStep 1 Results:\n%[4]s\n\n"+
			"Version Change Documentation:\nStep 2 Results:\n%[5]s\n\n"+
			"--- BEGIN ORIGINAL FILE CONTENT ---\n%[6]s\n--- END ORIGINAL FILE CONTENT ---",
			req.Language, req.FromVersion, req.ToVersion, structure, versionNotes, content),
		Instructions: []string{
			"Carefully review the version change documentation and project structure.",
			fmt.Sprintf("Convert the code to version %s for %s.", req.ToVersion, req.Language),
			"Make all necessary code, configuration, and syntax changes.",
			"Ensure the output is fully functional, syntactically correct, and ready to use.",
			"Do NOT include placeholders, TODOs, or incomplete code.",
			"Preserve all business logic and comments unless changes are required for compatibility.",
			"Double-check for syntax errors, missing imports, and migration mistakes.",
			"Return ONLY the complete, updated file content as plain text in the 'migrated_code' field.",
			"In the 'summary' field, provide a concise summary (1-3 sentences) of what was changed in this file, and confirm that the code was checked for syntax and migration errors.",
		},
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type reviewEntry struct {
	Filename string `json:"filename"`
	Summary  string `json:"summary"`
}

func reviewPrompt(req Request, files []FileResult) (string, error) {
	entries := make([]reviewEntry, len(files))
	for i, f := range files {
		entries[i] = reviewEntry{Filename: f.Filename, Summary: f.Summary}
	}
	list, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(`STEP 3: Review Migrated Project Files

You are to review the following migrated files for any issues, including:
- Syntax errors
- Annotation errors
- Variable naming or usage issues
- Any other migration mistakes

Here is the list of migrated files and their summaries:
%s

For each file, check the migrated code for correctness and compatibility with %s of %s.
Then, provide a final summary with:
- A list of filenames that were updated (no paths, just names)
- An overview of the application or code after migration
- Any issues found and suggestions for fixes

Do NOT include any file paths in your summary.`, list, req.ToVersion, req.Language), nil
}
