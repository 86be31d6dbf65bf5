package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/somuraj07/saams/internal/auth"
	"github.com/somuraj07/saams/internal/communication"
	"github.com/somuraj07/saams/internal/config"
	"github.com/somuraj07/saams/internal/models"
	"github.com/somuraj07/saams/internal/storage"
	"go.uber.org/zap"
)

const usage = `Usage: admin <command> [args]

Commands:
  migrate                                   apply database migrations
  add-user <role> <name> <email> [subjects] create a user (subjects comma separated)
  issue-token <user_id>                     print a bearer token for the user
  complete-appointment <appointment_id>     close an approved appointment`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	db, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	storageSvc := storage.NewStorageService(db, nil, zap.NewNop()) // No redis needed for admin CLI
	ctx := context.Background()

	command := os.Args[1]

	switch command {
	case "migrate":
		res, err := storageSvc.Migrate()
		if err != nil {
			log.Fatalf("Error migrating: %v", err)
		}
		fmt.Printf("Schema at version %d (changed: %v).\n", res.Version, res.Changed)
	case "add-user":
		if len(os.Args) < 5 {
			fmt.Println("Usage: admin add-user <STUDENT|TEACHER|ADMIN> <name> <email> [subjects]")
			os.Exit(1)
		}
		var subjects []string
		if len(os.Args) > 5 {
			subjects = strings.Split(os.Args[5], ",")
		}
		user, err := addUser(ctx, storageSvc, models.Role(strings.ToUpper(os.Args[2])), os.Args[3], os.Args[4], subjects)
		if err != nil {
			log.Fatalf("Error adding user: %v", err)
		}
		fmt.Printf("User %s (%s) has been created.\n", user.ID, user.Role)
	case "issue-token":
		if len(os.Args) != 3 {
			fmt.Println("Usage: admin issue-token <user_id>")
			os.Exit(1)
		}
		token, err := issueToken(ctx, storageSvc, auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL), os.Args[2])
		if err != nil {
			log.Fatalf("Error issuing token: %v", err)
		}
		fmt.Println(token)
	case "complete-appointment":
		if len(os.Args) != 3 {
			fmt.Println("Usage: admin complete-appointment <appointment_id>")
			os.Exit(1)
		}
		comm := communication.NewService(storageSvc, cfg.MaxMessageLength, zap.NewNop())
		admin := models.Caller{ID: "admin-cli", Role: models.RoleAdmin}
		apt, err := comm.CompleteAppointment(ctx, admin, os.Args[2])
		if err != nil {
			log.Fatalf("Error completing appointment: %v", err)
		}
		fmt.Printf("Appointment %s is now %s.\n", apt.ID, apt.Status)
	default:
		fmt.Println("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}
}

func addUser(ctx context.Context, s storage.Storage, role models.Role, name, email string, subjects []string) (*models.User, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	user := &models.User{Name: name, Email: email, Role: role, Subjects: subjects}
	if err := s.SaveUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func issueToken(ctx context.Context, s storage.Storage, tokens *auth.Tokens, userID string) (string, error) {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return tokens.Issue(models.Caller{ID: user.ID, Role: user.Role})
}
