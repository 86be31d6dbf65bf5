// Command chatcli is a terminal chat client for the appointment rooms.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/somuraj07/saams/internal/apiclient"
	"github.com/somuraj07/saams/internal/cliconfig"
	"github.com/somuraj07/saams/internal/conversation"
	"github.com/somuraj07/saams/internal/logging"
	"github.com/somuraj07/saams/internal/models"
	"github.com/somuraj07/saams/internal/realtime"
	"go.uber.org/zap"
)

const help = `/teachers               list teachers
/list                   list your appointments
/open <n|id>            open an appointment chat
/request <teacherId> [note]
/approve <id>  /reject <id>
/refresh                reload history
/close                  leave the chat
/quit
anything else is sent as a message`

func main() {
	cfgPath := flag.String("config", cliconfig.DefaultPath(), "path to config.toml")
	server := flag.String("server", "", "server URL (overrides config)")
	token := flag.String("token", "", "bearer token (overrides config)")
	save := flag.Bool("save", false, "write -server and -token into the config file")
	flag.Parse()

	cfg, err := cliconfig.Load(*cfgPath)
	if err != nil {
		cfg = &cliconfig.Config{ServerURL: "http://localhost:8080", LogLevel: "warn"}
	}
	if *server != "" {
		cfg.ServerURL = *server
	}
	if *token != "" {
		cfg.Token = *token
	}
	if *save {
		if err := cliconfig.Save(*cfgPath, cfg); err != nil {
			fmt.Fprintln(os.Stderr, "save config:", err)
			os.Exit(1)
		}
	}
	if cfg.Token == "" {
		fmt.Fprintln(os.Stderr, "no token: pass -token or set token in", *cfgPath)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, "console", "chatcli")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "chatcli:", err)
		os.Exit(1)
	}
}

type session struct {
	api    *apiclient.Client
	ctrl   *conversation.Controller
	logger *zap.Logger

	mu      sync.Mutex
	printed map[string]bool
}

func run(ctx context.Context, cfg *cliconfig.Config, logger *zap.Logger) error {
	wsURL, err := cfg.WebSocketURL()
	if err != nil {
		return err
	}
	api := apiclient.New(cfg.ServerURL, cfg.Token)

	rt, err := realtime.Dial(ctx, wsURL, cfg.Token, logger)
	if err != nil {
		return err
	}
	var rtMu sync.Mutex
	defer func() {
		rtMu.Lock()
		_ = rt.Close()
		rtMu.Unlock()
	}()

	s := &session{
		api:     api,
		ctrl:    conversation.NewController(rt, api, api, logger),
		logger:  logger,
		printed: make(map[string]bool),
	}
	s.ctrl.OnChange(s.render)

	// Перепідключення: новий транспорт і дозавантаження історії.
	go func() {
		for {
			rtMu.Lock()
			done := rt.Done()
			rtMu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-done:
			}
			fmt.Println("* connection lost, reconnecting")
			for {
				next, err := realtime.Dial(ctx, wsURL, cfg.Token, logger)
				if err == nil {
					rtMu.Lock()
					rt = next
					rtMu.Unlock()
					if err := s.ctrl.Rebind(ctx, next); err != nil {
						logger.Warn("rebind failed", zap.Error(err))
					}
					fmt.Println("* reconnected")
					break
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(2 * time.Second):
				}
			}
		}
	}()

	fmt.Println(help)
	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := s.handle(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func (s *session) handle(ctx context.Context, line string) (quit bool) {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		s.ctrl.SetDraft(line)
		if _, err := s.ctrl.Send(ctx); err != nil {
			fmt.Println("! not sent:", err)
		}
		return false
	}

	fields := strings.Fields(line)
	arg := func(i int) string {
		if len(fields) > i {
			return fields[i]
		}
		return ""
	}

	var err error
	switch fields[0] {
	case "/quit":
		return true
	case "/help":
		fmt.Println(help)
	case "/teachers":
		var teachers []models.User
		if teachers, err = s.api.ListTeachers(ctx); err == nil {
			for _, t := range teachers {
				fmt.Printf("  %s  %s  %s\n", t.ID, t.Name, strings.Join(t.Subjects, ", "))
			}
		}
	case "/list":
		var apts []models.Appointment
		if apts, err = s.ctrl.LoadAppointments(ctx); err == nil {
			for i, a := range apts {
				fmt.Printf("  %d. %s  %-9s  student=%s teacher=%s\n", i+1, a.ID, a.Status, a.StudentID, a.TeacherID)
			}
		}
	case "/open":
		err = s.open(ctx, arg(1))
	case "/request":
		var apt *models.Appointment
		var note string
		if len(fields) > 2 {
			note = strings.Join(fields[2:], " ")
		}
		if apt, err = s.ctrl.Request(ctx, arg(1), note); err == nil {
			fmt.Println("* requested", apt.ID)
		}
	case "/approve":
		_, err = s.ctrl.Approve(ctx, s.resolve(arg(1)))
	case "/reject":
		_, err = s.ctrl.Reject(ctx, s.resolve(arg(1)))
	case "/refresh":
		err = s.ctrl.Refresh(ctx)
	case "/close":
		s.ctrl.Deselect()
		s.resetPrinted()
	default:
		fmt.Println("unknown command, /help for help")
	}
	if err != nil {
		fmt.Println("!", err)
	}
	return false
}

// resolve maps a list index to an appointment ID; anything else is taken as an ID.
func (s *session) resolve(ref string) string {
	n, err := strconv.Atoi(ref)
	if err != nil {
		return ref
	}
	apts := s.ctrl.Snapshot().Appointments
	if n < 1 || n > len(apts) {
		return ref
	}
	return apts[n-1].ID
}

func (s *session) open(ctx context.Context, ref string) error {
	id := s.resolve(ref)
	for _, a := range s.ctrl.Snapshot().Appointments {
		if a.ID == id {
			s.resetPrinted()
			fmt.Printf("* chat %s (%s)\n", a.ID, a.Status)
			return s.ctrl.Select(ctx, a)
		}
	}
	return fmt.Errorf("unknown appointment %q, run /list first", ref)
}

func (s *session) resetPrinted() {
	s.mu.Lock()
	s.printed = make(map[string]bool)
	s.mu.Unlock()
}

// render prints transcript entries not shown yet.
func (s *session) render() {
	snap := s.ctrl.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range snap.Messages {
		if s.printed[m.ID] {
			continue
		}
		s.printed[m.ID] = true
		fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), m.SenderID, m.Content)
	}
}
