package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/apk-analysis/apk-risk-go/internal/config"
	"github.com/apk-analysis/apk-risk-go/internal/repository"
)

func main() {
	_ = godotenv.Load()

	// 加载配置
	configPath := "./configs/config.yaml"
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		configPath = os.Args[2]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}
	logger := config.InitLogger(&cfg.Log)

	// InitDB 内部执行 AutoMigrate
	db, err := repository.InitDB(&cfg.Database, logger)
	if err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}

	seeded, err := repository.NewBankRepository(db).SeedDefaults(context.Background())
	if err != nil {
		log.Fatalf("Failed to seed bank references: %v", err)
	}

	fmt.Printf("✓ Migration completed successfully (%d banks seeded)\n", seeded)
}
