package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/examily/examily-backend/internal/config"
	"github.com/examily/examily-backend/internal/database"
	"github.com/examily/examily-backend/internal/logger"
	"github.com/examily/examily-backend/internal/model"
	"github.com/examily/examily-backend/internal/repository"
	"github.com/examily/examily-backend/internal/service"
	"github.com/examily/examily-backend/internal/validator"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat).With().Str("component", "admin_cli").Logger()

	validator.Setup()

	root := &cobra.Command{
		Use:           "examily-admin",
		Short:         "Operator tasks for the Examily backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newCreateUserCmd(cfg, log),
		newResetPasswordCmd(cfg, log),
		newImportExamCmd(cfg, log),
	)

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func connect(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*pgxpool.Pool, error) {
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("connect to PostgreSQL: %w", err)
	}
	return pool, nil
}

// ─── create-user ───────────────────────────────────────────────────────

func newCreateUserCmd(cfg *config.Config, log zerolog.Logger) *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create a teacher or student account interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			reader := bufio.NewReader(os.Stdin)

			fmt.Println("=== Create User ===")

			fmt.Print("Name: ")
			name, _ := reader.ReadString('\n')

			fmt.Print("Email: ")
			email, _ := reader.ReadString('\n')

			fmt.Print("Password: ")
			bytePassword, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Println()
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}

			req := &model.RegisterRequest{
				Name:     strings.TrimSpace(name),
				Email:    strings.TrimSpace(email),
				Password: string(bytePassword),
				Role:     model.Role(role),
			}
			if fields := validator.Struct(req); fields != nil {
				return fmt.Errorf("invalid user: %v", fields)
			}

			pool, err := connect(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer pool.Close()

			userRepo := repository.NewUserRepository(pool)
			authService := service.NewAuthService(cfg, userRepo)

			u, err := authService.NewUser(req)
			if err != nil {
				return err
			}
			if err := userRepo.Create(ctx, u); err != nil {
				if errors.Is(err, repository.ErrDuplicateEmail) {
					return service.ErrEmailTaken
				}
				return fmt.Errorf("create user: %w", err)
			}

			fmt.Printf("\nSuccess! %s '%s' (%s) created with ID: %s\n", u.Role, u.Name, u.Email, u.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(model.RoleTeacher), "Account role (teacher or student)")
	return cmd
}

// ─── reset-password ────────────────────────────────────────────────────

func newResetPasswordCmd(cfg *config.Config, log zerolog.Logger) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Set a new password for an existing account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			fmt.Print("New password: ")
			bytePassword, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Println()
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			if len(bytePassword) < 6 {
				return errors.New("password must be at least 6 characters")
			}

			pool, err := connect(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer pool.Close()

			userRepo := repository.NewUserRepository(pool)
			u, err := userRepo.GetByEmail(ctx, email)
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("no account with email %q", email)
			}
			if err != nil {
				return fmt.Errorf("look up account: %w", err)
			}

			hash, err := service.NewAuthService(cfg, userRepo).HashPassword(string(bytePassword))
			if err != nil {
				return err
			}
			if err := userRepo.UpdatePassword(ctx, u.ID, hash); err != nil {
				return fmt.Errorf("update password: %w", err)
			}

			fmt.Printf("Password updated for %s (%s)\n", u.Email, u.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email of the account")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// ─── import-exam ───────────────────────────────────────────────────────

func newImportExamCmd(cfg *config.Config, log zerolog.Logger) *cobra.Command {
	var (
		file        string
		authorEmail string
	)

	cmd := &cobra.Command{
		Use:   "import-exam",
		Short: "Create an exam from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			req, err := readExamFile(file)
			if err != nil {
				return err
			}

			pool, err := connect(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer pool.Close()

			userRepo := repository.NewUserRepository(pool)
			author, err := userRepo.GetByEmail(ctx, authorEmail)
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("no account with email %q", authorEmail)
			}
			if err != nil {
				return fmt.Errorf("look up author: %w", err)
			}
			if author.Role != model.RoleTeacher {
				return fmt.Errorf("%s is not a teacher", authorEmail)
			}

			// New exams have no attempts, so no cache entry needs invalidating.
			examService := service.NewExamService(
				repository.NewExamRepository(pool),
				repository.NewAttemptRepository(pool),
				nil,
				log,
			)
			exam, err := examService.Create(ctx, author.ID, req)
			var verr *service.ValidationError
			if errors.As(err, &verr) {
				return fmt.Errorf("invalid exam file: %v", verr.Fields)
			}
			if err != nil {
				return err
			}

			fmt.Printf("Imported '%s' (%s) with %d questions, ID: %s\n",
				exam.Title, exam.CourseCode, len(exam.Questions), exam.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Path to the exam YAML file")
	cmd.Flags().StringVar(&authorEmail, "author-email", "", "Email of the teacher who owns the exam")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("author-email")
	return cmd
}

// readExamFile decodes and validates an exam definition.
func readExamFile(path string) (*model.ExamRequest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open exam file: %w", err)
	}
	defer f.Close()

	var req model.ExamRequest
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("decode exam file: %w", err)
	}
	if fields := validator.Struct(&req); fields != nil {
		return nil, fmt.Errorf("invalid exam file: %v", fields)
	}
	return &req, nil
}
