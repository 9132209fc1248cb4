package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/ctech/ctech-exam/internal/config"
	"github.com/ctech/ctech-exam/internal/database"
	"github.com/ctech/ctech-exam/internal/logger"
	"github.com/ctech/ctech-exam/internal/model"
	"github.com/ctech/ctech-exam/internal/repository"
	"github.com/ctech/ctech-exam/internal/service"
)

func main() {
	count := flag.Int("n", 30, "Number of students to create")
	prefix := flag.String("prefix", "CT", "Register number prefix")
	password := flag.String("password", "ctech2026", "Initial password for every seeded student")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	studentService := service.NewStudentService(repository.NewStudentRepository(pool), cfg.BcryptCost)

	names := []string{
		"Aarav Shah", "Bea Santos", "Chen Wei", "Dina Haddad", "Emeka Obi",
		"Farah Aziz", "Goran Petrov", "Hana Sato", "Ivan Novak", "Jia Li",
		"Kofi Mensah", "Lena Weber", "Mateo Rossi", "Nadia Rahman", "Omar Farouk",
		"Priya Nair", "Quinn Walsh", "Rosa Diaz", "Sven Larsen", "Tara Singh",
	}

	fmt.Printf("=== Seeding %d Students ===\n", *count)

	created, skipped := 0, 0
	for i := 0; i < *count; i++ {
		req := model.CreateStudentRequest{
			RegisterNumber: fmt.Sprintf("%s%04d", *prefix, i+1),
			Name:           fmt.Sprintf("%s %d", names[i%len(names)], i/len(names)+1),
			Password:       *password,
		}

		if _, err := studentService.CreateStudent(ctx, req); err != nil {
			if errors.Is(err, repository.ErrDuplicateRegisterNumber) {
				skipped++
				continue
			}
			fmt.Printf("Error creating student %s: %v\n", req.RegisterNumber, err)
			continue
		}
		created++
		if created%10 == 0 {
			fmt.Printf("Created %d students...\n", created)
		}
	}

	fmt.Printf("\nSeed completed! Created %d, skipped %d existing of %d.\n", created, skipped, *count)
}
