package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/scholarline/taskdesk/internal/adapter/otel"
	"github.com/scholarline/taskdesk/internal/adapter/wsclient"
	"github.com/scholarline/taskdesk/internal/service"
	"github.com/scholarline/taskdesk/internal/store"
)

// runWatch connects the live channels and prints task changes and chat
// messages until interrupted. With --task it also joins that task's chat
// room and sends each stdin line as a message.
func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	taskID := fs.Int64("task", 0, "join this task's chat room")
	if err := fs.Parse(args); err != nil {
		return err
	}

	d, cleanup, err := loadDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	if !d.sess.Authenticated() {
		return fmt.Errorf("not logged in, run: taskdesk login")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := otel.InitMetrics(ctx, d.cfg.Metrics, d.log)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	var metrics *otel.Metrics
	if d.cfg.Metrics.Enabled {
		metrics, err = otel.NewMetrics()
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	st := store.New(d.log)
	printer := &changePrinter{store: st, seen: make(map[int64]bool)}

	coord := service.New(service.Config{
		API:            d.client,
		Store:          st,
		Session:        d.sess,
		WSBase:         service.ResolveWSBase(d.cfg.WS, d.cfg.API),
		InitialBackoff: d.cfg.WS.InitialBackoff,
		MaxBackoff:     d.cfg.WS.MaxBackoff,
		Logger:         d.log,
		Metrics:        metrics,
		OnNotice: func(n service.Notice) {
			fmt.Fprintf(os.Stderr, "[%s] %s\n", n.Level, n.Text)
		},
		OnState: func(s wsclient.State) {
			fmt.Fprintf(os.Stderr, "[conn] %s\n", s)
		},
		OnTyping: func(id int64, username string, active bool) {
			if active {
				fmt.Fprintf(os.Stderr, "[task %d] %s is typing...\n", id, username)
			}
		},
	})
	defer coord.Close()

	unsub := st.Subscribe(printer.print)
	defer unsub()

	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	if *taskID != 0 {
		if err := coord.SelectTask(ctx, *taskID); err != nil {
			return fmt.Errorf("select task %d: %w", *taskID, err)
		}
		go chatLoop(ctx, coord)
		fmt.Fprintf(os.Stderr, "Joined task %d chat. Type a message and press enter.\n", *taskID)
	}

	<-ctx.Done()
	fmt.Fprintln(os.Stderr, "Shutting down.")
	return nil
}

// chatLoop sends each nonempty stdin line as a chat message.
func chatLoop(ctx context.Context, coord *service.Coordinator) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := coord.SendChat(ctx, line, nil); err != nil {
			fmt.Fprintf(os.Stderr, "[error] send: %v\n", err)
		}
	}
}

// changePrinter renders store mutations as terminal lines. Optimistic
// placeholders are skipped; their server echo prints once instead.
type changePrinter struct {
	store *store.Store
	seen  map[int64]bool
}

func (p *changePrinter) print(c store.Change) {
	switch c.Kind {
	case store.ChangeTaskUpserted, store.ChangeTaskPatched, store.ChangeTaskRolledBack:
		if t, ok := p.store.Task(c.TaskID); ok {
			fmt.Fprintf(os.Stderr, "[task %d] %s status=%s negotiation=%s progress=%d%%\n",
				t.ID, t.Title, t.Status, t.NegotiationStatus, t.Progress)
		}
	case store.ChangeMessageAppended:
		for _, m := range p.store.Messages(c.TaskID) {
			if m.Temp() || p.seen[m.ID] {
				continue
			}
			p.seen[m.ID] = true
			fmt.Fprintf(os.Stderr, "[chat %d] %s: %s\n", c.TaskID, m.SenderName, m.Body)
		}
	}
}
