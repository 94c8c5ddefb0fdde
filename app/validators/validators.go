// Package validators checks request bodies against the embedded JSON
// schemas and decodes them into model inputs.
package validators

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tasktree/app/models"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	createTaskSchema = mustCompile("create_task.json")
	updateTaskSchema = mustCompile("update_task.json")
	commentSchema    = mustCompile("comment.json")
	statusSchema     = mustCompile("status.json")
)

// FieldError is one rejected field. Field is a dotted path, empty for the
// body itself.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors collects every problem found in a request body.
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, fe := range e {
		if fe.Field == "" {
			parts = append(parts, fe.Message)
			continue
		}
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// CommentInput is a validated comment body.
type CommentInput struct {
	Text   string `json:"text"`
	Author string `json:"author"`
}

// ValidateCreateTask validates a create body. A due date must not lie
// before now.
func ValidateCreateTask(body []byte, now time.Time) (models.TaskInput, error) {
	var in models.TaskInput
	if err := check(createTaskSchema, body); err != nil {
		return in, err
	}
	if err := json.Unmarshal(body, &in); err != nil {
		return in, Errors{{Message: "invalid JSON body"}}
	}
	if in.DueDate != nil && in.DueDate.Before(now) {
		return in, Errors{{Field: "due_date", Message: "due date cannot be in the past"}}
	}
	return in, nil
}

// ValidateUpdateTask validates a partial update. A null or empty due_date
// clears the due date.
func ValidateUpdateTask(body []byte) (models.TaskUpdate, error) {
	var upd models.TaskUpdate
	if err := check(updateTaskSchema, body); err != nil {
		return upd, err
	}
	if err := json.Unmarshal(body, &upd); err != nil {
		return upd, Errors{{Message: "invalid JSON body"}}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return upd, Errors{{Message: "invalid JSON body"}}
	}
	if due, ok := raw["due_date"]; ok {
		var s *string
		if err := json.Unmarshal(due, &s); err != nil {
			return upd, Errors{{Field: "due_date", Message: "must be a date-time string"}}
		}
		if s == nil || *s == "" {
			upd.ClearDueDate = true
		} else {
			t, err := time.Parse(time.RFC3339, *s)
			if err != nil {
				return upd, Errors{{Field: "due_date", Message: "must be an RFC 3339 date-time"}}
			}
			upd.DueDate = &t
		}
	}
	return upd, nil
}

// ValidateComment validates a comment body.
func ValidateComment(body []byte) (CommentInput, error) {
	var in CommentInput
	if err := check(commentSchema, body); err != nil {
		return in, err
	}
	if err := json.Unmarshal(body, &in); err != nil {
		return in, Errors{{Message: "invalid JSON body"}}
	}
	return in, nil
}

// ValidateStatus validates a status change body.
func ValidateStatus(body []byte) (models.Status, error) {
	if err := check(statusSchema, body); err != nil {
		return "", err
	}
	var in struct {
		Status models.Status `json:"status"`
	}
	if err := json.Unmarshal(body, &in); err != nil {
		return "", Errors{{Message: "invalid JSON body"}}
	}
	return in.Status, nil
}

func check(schema *jsonschema.Schema, body []byte) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return Errors{{Message: "request body is required"}}
	}
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return Errors{{Message: "invalid JSON body"}}
	}
	if err := schema.Validate(doc); err != nil {
		ve, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return Errors{{Message: err.Error()}}
		}
		var errs Errors
		collectSchemaErrors(&errs, ve)
		return errs
	}
	return nil
}

func collectSchemaErrors(errs *Errors, err *jsonschema.ValidationError) {
	if len(err.Causes) == 0 {
		*errs = append(*errs, FieldError{
			Field:   pointerToField(err.InstanceLocation),
			Message: err.Message,
		})
		return
	}
	for _, cause := range err.Causes {
		collectSchemaErrors(errs, cause)
	}
}

func pointerToField(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "#")
	ptr = strings.TrimPrefix(ptr, "/")
	return strings.ReplaceAll(ptr, "/", ".")
}

func mustCompile(name string) *jsonschema.Schema {
	data, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		panic(fmt.Sprintf("validators: read schema %s: %v", name, err))
	}

	url := "mem://schemas/" + name
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
		panic(fmt.Sprintf("validators: add schema %s: %v", name, err))
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("validators: compile schema %s: %v", name, err))
	}
	return schema
}
