package ai

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/kozaktomas/media-annotator/internal/constants"
)

//go:embed prompts/describe.txt
var describePrompt string

var describeTemplate = template.Must(template.New("describe").Parse(describePrompt))

const videoNote = "These are representative frames from one video."

var requiredKeys = []string{
	"summary",
	"description",
	"tags",
	"suggested_filename_base",
	"key_people",
	"key_objects",
	"key_actions",
}

// ValidationError reports model output that is not a usable description.
type ValidationError struct {
	Msg string
	Err error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// BuildPrompt renders the describe prompt for req.
func BuildPrompt(req Request) (string, error) {
	people := req.People
	if people == nil {
		people = []Person{}
	}
	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	peopleJSON, err := compactJSON(people)
	if err != nil {
		return "", fmt.Errorf("encoding people: %w", err)
	}
	metadataJSON, err := compactJSON(metadata)
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}

	data := struct {
		MediaType       string
		CaptureDatetime string
		LocationText    string
		People          string
		Metadata        string
		VideoNote       string
	}{
		MediaType:       req.MediaType,
		CaptureDatetime: req.CaptureDatetime,
		LocationText:    req.LocationText,
		People:          peopleJSON,
		Metadata:        metadataJSON,
	}
	if data.CaptureDatetime == "" {
		data.CaptureDatetime = "unknown"
	}
	if req.MediaType == constants.KindVideo {
		data.VideoNote = videoNote
	}

	var buf bytes.Buffer
	if err := describeTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering prompt: %w", err)
	}
	return buf.String(), nil
}

// RepairPrompt asks the model to fix its previous answer.
func RepairPrompt(cause error, content string) string {
	return fmt.Sprintf("Repair JSON only. Error: %v. Original content: %s", cause, content)
}

// ParseDescription validates raw model output. Surrounding prose or code
// fences around the JSON object are ignored.
func ParseDescription(content string) (*Description, error) {
	raw := []byte(extractJSON(content))

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &ValidationError{Msg: "invalid JSON", Err: err}
	}
	for _, key := range requiredKeys {
		if _, ok := fields[key]; !ok {
			return nil, &ValidationError{Msg: "Missing key: " + key}
		}
	}
	if !bytes.HasPrefix(bytes.TrimSpace(fields["tags"]), []byte("[")) {
		return nil, &ValidationError{Msg: "tags must be list"}
	}

	var desc Description
	if err := json.Unmarshal(raw, &desc); err != nil {
		return nil, &ValidationError{Msg: "unexpected field type", Err: err}
	}
	return &desc, nil
}

// extractJSON returns the first balanced JSON object in content.
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	if start == -1 {
		return content
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return content[start:]
}

func compactJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
