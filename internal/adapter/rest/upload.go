package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"

	"github.com/scholarline/taskdesk/internal/domain/task"
)

// Upload is one file destined for a multipart request.
type Upload struct {
	Field    string
	Filename string
	Reader   io.Reader
}

// CreateTaskRequest holds the fields for submitting a new task.
type CreateTaskRequest struct {
	Title          string
	Description    string
	Subject        string
	EducationLevel string
	Deadline       string
	Timezone       string
	ProposedBudget string
	Files          []Upload
}

// CreateTask submits a new task as multipart form data.
func (c *Client) CreateTask(ctx context.Context, req CreateTaskRequest) (task.Task, error) {
	fields := map[string]string{
		"title":           req.Title,
		"description":     req.Description,
		"subject":         req.Subject,
		"education_level": req.EducationLevel,
		"deadline":        req.Deadline,
		"timezone_str":    req.Timezone,
		"proposed_budget": req.ProposedBudget,
	}

	data, err := c.doMultipart(ctx, "/api/tasks/", fields, req.Files)
	if err != nil {
		return task.Task{}, fmt.Errorf("create task: %w", err)
	}

	var t task.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return task.Task{}, fmt.Errorf("unmarshal created task: %w", err)
	}
	return t, nil
}

// UploadSolution uploads the admin's solution file for a task.
func (c *Client) UploadSolution(ctx context.Context, taskID int64, filename string, r io.Reader) error {
	path := fmt.Sprintf("/api/admin/tasks/%d/upload-solution/", taskID)
	up := Upload{Field: "solution", Filename: filename, Reader: r}
	if _, err := c.doMultipart(ctx, path, nil, []Upload{up}); err != nil {
		return fmt.Errorf("upload solution: %w", err)
	}
	return nil
}

// doMultipart builds and posts a multipart/form-data body.
func (c *Client) doMultipart(ctx context.Context, path string, fields map[string]string, files []Upload) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("write field %s: %w", k, err)
		}
	}
	for _, f := range files {
		field := f.Field
		if field == "" {
			field = "file"
		}
		part, err := mw.CreateFormFile(field, f.Filename)
		if err != nil {
			return nil, fmt.Errorf("create form file: %w", err)
		}
		if _, err := io.Copy(part, f.Reader); err != nil {
			return nil, fmt.Errorf("copy file %s: %w", f.Filename, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finish multipart: %w", err)
	}

	return c.do(ctx, "POST", path, mw.FormDataContentType(), buf.Bytes(), true)
}
