package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/scholarline/taskdesk/internal/adapter/rest"
	"github.com/scholarline/taskdesk/internal/adapter/ristretto"
	"github.com/scholarline/taskdesk/internal/config"
	"github.com/scholarline/taskdesk/internal/domain/task"
	"github.com/scholarline/taskdesk/internal/logger"
	"github.com/scholarline/taskdesk/internal/resilience"
	"github.com/scholarline/taskdesk/internal/session"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printHelp()
		return nil
	}

	switch args[0] {
	case "login":
		return runLogin(args[1:])
	case "logout":
		return runLogout(args[1:])
	case "register":
		return runRegister(args[1:])
	case "tasks":
		return runTasks(args[1:])
	case "create":
		return runCreate(args[1:])
	case "upload":
		return runUpload(args[1:])
	case "act":
		return runAct(args[1:])
	case "stats":
		return runStats(args[1:])
	case "watch":
		return runWatch(args[1:])
	case "devserver":
		return runDevServer(args[1:])
	default:
		printHelp()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `Usage: taskdesk <command> [options]

Commands:
  login       Authenticate and persist the session
  logout      Clear the persisted session
  register    Create a new account
  tasks       List tasks for the signed-in user
  create      Submit a new task
  upload      Upload a solution file for a task
  act         Perform a task action (accept, counterBudget, approve, ...)
  stats       Show the admin dashboard counters
  watch       Stream live task and chat updates
  devserver   Run the built-in stub backend
  help        Show this help message

Examples:
  taskdesk login --username student1
  taskdesk tasks
  taskdesk act counterBudget --task 7 --amount 65
  taskdesk watch --task 7
  taskdesk devserver --port 8000
`)
}

// deps bundles everything a REST-backed subcommand needs.
type deps struct {
	cfg    *config.Config
	log    *slog.Logger
	sess   *session.Session
	client *rest.Client
}

func loadDeps() (*deps, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	log, logClose := logger.New(cfg.Logging)

	path := cfg.Session.File
	if path == "" {
		path, err = session.DefaultPath()
		if err != nil {
			logClose.Close()
			return nil, nil, fmt.Errorf("session path: %w", err)
		}
	}
	sess, err := session.Load(path)
	if err != nil {
		logClose.Close()
		return nil, nil, fmt.Errorf("load session: %w", err)
	}

	cc, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		logClose.Close()
		return nil, nil, fmt.Errorf("response cache: %w", err)
	}

	client := rest.New(cfg.API, sess,
		rest.WithLogger(log),
		rest.WithBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)),
		rest.WithCache(cc, cfg.Cache.TTL),
	)

	cleanup := func() {
		cc.Close()
		logClose.Close()
	}
	return &deps{cfg: cfg, log: log, sess: sess, client: client}, cleanup, nil
}

func runLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	username := fs.String("username", "", "account username (required)")
	password := fs.String("password", "", "password (prompted if not provided)") //nolint:gosec // CLI flag
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		return fmt.Errorf("--username is required")
	}

	pass := *password
	if pass == "" {
		var err error
		pass, err = promptPassword("Password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
	}

	d, cleanup, err := loadDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	u, err := d.client.Login(context.Background(), *username, pass)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Logged in as %s (role=%s)\n", u.Username, u.Role)
	return nil
}

func runLogout(args []string) error {
	fs := flag.NewFlagSet("logout", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	d, cleanup, err := loadDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	if !d.sess.Authenticated() {
		fmt.Fprintln(os.Stderr, "No active session.")
		return nil
	}
	d.sess.Clear()
	fmt.Fprintln(os.Stderr, "Logged out.")
	return nil
}

func runRegister(args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	username := fs.String("username", "", "account username (required)")
	email := fs.String("email", "", "email address (required)")
	first := fs.String("first-name", "", "first name")
	last := fs.String("last-name", "", "last name")
	password := fs.String("password", "", "password (prompted if not provided)") //nolint:gosec // CLI flag
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		return fmt.Errorf("--username is required")
	}
	if *email == "" {
		return fmt.Errorf("--email is required")
	}

	pass := *password
	if pass == "" {
		var err error
		pass, err = promptPassword("Password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		confirm, err := promptPassword("Confirm password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		if pass != confirm {
			return fmt.Errorf("passwords do not match")
		}
	}

	d, cleanup, err := loadDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	u, err := d.client.Register(context.Background(), rest.RegisterRequest{
		Username:  *username,
		Email:     *email,
		Password:  pass,
		FirstName: *first,
		LastName:  *last,
	})
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Account created: %s (id=%d)\n", u.Username, u.ID)
	return nil
}

func runTasks(args []string) error {
	fs := flag.NewFlagSet("tasks", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	d, cleanup, err := loadDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	tasks, err := d.client.Tasks(context.Background())
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tNEGOTIATION\tBUDGET\tPROGRESS\tUNREAD")
	for i := range tasks {
		t := &tasks[i]
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d%%\t%d\n",
			t.ID, t.Title, t.Status, t.NegotiationStatus, formatBudget(t), t.Progress, t.UnreadCount)
	}
	return w.Flush()
}

// formatBudget prefers the agreed budget and falls back to the proposal.
func formatBudget(t *task.Task) string {
	if t.Budget != nil {
		return fmt.Sprintf("$%.2f", *t.Budget)
	}
	return fmt.Sprintf("$%.2f (proposed)", t.ProposedBudget)
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	d, cleanup, err := loadDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	st, err := d.client.Stats(context.Background())
	if err != nil {
		return fmt.Errorf("fetch stats: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total tasks\t%d\n", st.TotalTasks)
	_, _ = fmt.Fprintf(w, "Submitted\t%d\n", st.Submitted)
	_, _ = fmt.Fprintf(w, "In negotiation\t%d\n", st.BudgetNegotiation)
	_, _ = fmt.Fprintf(w, "In progress\t%d\n", st.InProgress)
	_, _ = fmt.Fprintf(w, "Awaiting review\t%d\n", st.AwaitingReview)
	_, _ = fmt.Fprintf(w, "Completed\t%d\n", st.Completed)
	_, _ = fmt.Fprintf(w, "Total earnings\t$%.2f\n", st.TotalEarnings)
	return w.Flush()
}

// promptPassword reads a password from the terminal without echoing.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
