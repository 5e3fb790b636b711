package main

import (
	"context"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sjperalta/fintera-invoicing/internal/config"
	"github.com/sjperalta/fintera-invoicing/internal/models"
	"github.com/sjperalta/fintera-invoicing/internal/services"
	"github.com/sjperalta/fintera-invoicing/pkg/logger"
)

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Setup("development")

	if cfg.ResendAPIKey == "" {
		log.Fatal("RESEND_API_KEY is not set")
	}
	cfg.EnableEmailNotifications = true

	emailService := services.NewEmailService(cfg)

	toEmail := os.Getenv("TEST_EMAIL_TO")
	if toEmail == "" {
		toEmail = "test@example.com"
		log.Println("TEST_EMAIL_TO not set, using test@example.com. Emails might fail if the domain is not verified.")
	}

	inv := &models.Invoice{
		ID:                  "00000000-0000-0000-0000-000000000001",
		ContractID:          "00000000-0000-0000-0000-000000000002",
		Version:             1,
		Currency:            "USD",
		AggregateConfidence: 0.72,
		Lines: []models.InvoiceLine{
			{ID: "line-1", Number: 1, Description: "Backend development", Amount: decimal.RequireFromString("2000.00"), Confidence: 0.72},
		},
	}

	log.Printf("Sending exception assignment email to %s...", toEmail)
	err = emailService.SendExceptionsAssigned(context.Background(), toEmail, inv, []models.Exception{{
		InvoiceID:    inv.ID,
		LineID:       "line-1",
		Kind:         models.ExceptionKindLowConfidence,
		Reason:       "confidence 0.72 is below threshold 0.80",
		AssignedRole: models.RoleController,
	}})
	if err != nil {
		log.Fatalf("Failed to send exception assignment email: %v", err)
	}
	log.Println("Exception assignment email sent successfully!")

	log.Printf("Sending push failure email to %s...", toEmail)
	if err := emailService.SendPushFailed(context.Background(), toEmail, inv, 3, "export gate returned 503"); err != nil {
		log.Fatalf("Failed to send push failure email: %v", err)
	}
	log.Println("Push failure email sent successfully!")
}
