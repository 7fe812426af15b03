package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/scholarline/taskdesk/internal/adapter/rest"
)

func runCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	title := fs.String("title", "", "task title (required)")
	description := fs.String("description", "", "task description")
	subject := fs.String("subject", "", "subject area")
	level := fs.String("level", "", "education level")
	deadline := fs.String("deadline", "", "deadline, RFC 3339")
	timezone := fs.String("timezone", "", "client timezone name")
	budget := fs.Float64("budget", 0, "proposed budget (required)")
	file := fs.String("file", "", "attachment path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *title == "" {
		return fmt.Errorf("--title is required")
	}
	if *budget <= 0 {
		return fmt.Errorf("--budget is required")
	}

	d, cleanup, err := loadDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	req := rest.CreateTaskRequest{
		Title:          *title,
		Description:    *description,
		Subject:        *subject,
		EducationLevel: *level,
		Deadline:       *deadline,
		Timezone:       *timezone,
		ProposedBudget: strconv.FormatFloat(*budget, 'f', 2, 64),
	}
	if *file != "" {
		f, err := os.Open(*file)
		if err != nil {
			return fmt.Errorf("open attachment: %w", err)
		}
		defer f.Close()
		req.Files = append(req.Files, rest.Upload{
			Field:    "file",
			Filename: filepath.Base(*file),
			Reader:   f,
		})
	}

	t, err := d.client.CreateTask(context.Background(), req)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Task created: %d %q (proposed $%.2f)\n", t.ID, t.Title, t.ProposedBudget)
	return nil
}

func runUpload(args []string) error {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	taskID := fs.Int64("task", 0, "task id (required)")
	file := fs.String("file", "", "solution file path (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *taskID == 0 {
		return fmt.Errorf("--task is required")
	}
	if *file == "" {
		return fmt.Errorf("--file is required")
	}

	d, cleanup, err := loadDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	f, err := os.Open(*file)
	if err != nil {
		return fmt.Errorf("open solution: %w", err)
	}
	defer f.Close()

	if err := d.client.UploadSolution(context.Background(), *taskID, filepath.Base(*file), f); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Solution uploaded for task %d.\n", *taskID)
	return nil
}
