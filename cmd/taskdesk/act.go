package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/scholarline/taskdesk/internal/domain/task"
	"github.com/scholarline/taskdesk/internal/service"
	"github.com/scholarline/taskdesk/internal/store"
)

// runAct performs one task action through the optimistic pipeline: patch the
// local store, hit the endpoint, roll back on failure.
func runAct(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printActHelp()
		return nil
	}

	action := task.Action(args[0])

	fs := flag.NewFlagSet("act", flag.ContinueOnError)
	taskID := fs.Int64("task", 0, "task id (required)")
	amount := fs.Float64("amount", 0, "budget amount (counterBudget, proposeBudget)")
	reason := fs.String("reason", "", "reason text (withdraw, reject)")
	feedback := fs.String("feedback", "", "revision feedback (requestRevision)")
	progress := fs.Int("progress", 0, "progress percentage (updateProgress)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *taskID == 0 {
		return fmt.Errorf("--task is required")
	}

	d, cleanup, err := loadDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	if !d.sess.Authenticated() {
		return fmt.Errorf("not logged in, run: taskdesk login")
	}

	ctx := context.Background()

	st := store.New(d.log)
	tasks, err := d.client.Tasks(ctx)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	for i := len(tasks) - 1; i >= 0; i-- {
		st.UpsertTask(tasks[i])
	}

	coord := service.New(service.Config{
		API:     d.client,
		Store:   st,
		Session: d.sess,
		Logger:  d.log,
		OnNotice: func(n service.Notice) {
			fmt.Fprintf(os.Stderr, "[%s] %s\n", n.Level, n.Text)
		},
	})
	defer coord.Close()

	params := service.ActionParams{
		Amount:   *amount,
		Reason:   *reason,
		Feedback: *feedback,
		Progress: *progress,
	}
	if err := coord.PerformAction(ctx, *taskID, action, params); err != nil {
		return err
	}

	if t, ok := st.Task(*taskID); ok {
		fmt.Fprintf(os.Stderr, "Task %d: status=%s negotiation=%s\n", t.ID, t.Status, t.NegotiationStatus)
	}
	return nil
}

func printActHelp() {
	fmt.Fprintf(os.Stderr, `Usage: taskdesk act <action> --task <id> [options]

Client actions:
  acceptBudget     Accept the proposed budget
  counterBudget    Counter with --amount
  rejectBudget     Reject the proposed budget
  withdraw         Withdraw the task (--reason)
  approve          Approve the delivered work
  requestRevision  Request changes (--feedback)

Admin actions:
  accept           Accept a submitted task at its proposed budget
  reject           Reject a submitted task (--reason)
  proposeBudget    Propose a budget (--amount)
  updateProgress   Report progress (--progress)
  submitReview     Submit the work for review
  markComplete     Mark an approved task complete

Examples:
  taskdesk act counterBudget --task 7 --amount 65
  taskdesk act updateProgress --task 7 --progress 80
`)
}
