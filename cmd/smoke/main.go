// Command smoke runs the login and role checks against a running API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"cardiavue.org/internal/client"
	"cardiavue.org/internal/records"
)

type credentials struct {
	admin, doctor, nurse [2]string
}

// demoCredentials match the development seed data.
var demoCredentials = credentials{
	admin:  [2]string{"admin", "admin123"},
	doctor: [2]string{"doctor1", "password123"},
	nurse:  [2]string{"nurse1", "password123"},
}

func main() {
	base := os.Getenv("CARDIAVUE_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}

	ctx, cancel := client.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, base, &http.Client{Timeout: 5 * time.Second}, demoCredentials); err != nil {
		log.Fatalf("smoke test failed: %v", err)
	}
	fmt.Printf("smoke test passed against %s\n", base)
}

func run(ctx context.Context, base string, hc *http.Client, creds credentials) error {
	anon := client.New(base, hc)
	if err := anon.Ready(ctx); err != nil {
		return fmt.Errorf("readyz: %w", err)
	}
	if _, err := anon.ListPatients(ctx, records.Page{}); !errors.Is(err, client.ErrUnauthorized) {
		return fmt.Errorf("anonymous list patients: expected 401, got %v", err)
	}
	if _, err := anon.WithToken("not.a.token").ListPatients(ctx, records.Page{}); !errors.Is(err, client.ErrUnauthorized) {
		return fmt.Errorf("forged token: expected 401, got %v", err)
	}

	admin, err := login(ctx, base, hc, creds.admin)
	if err != nil {
		return err
	}
	doctor, err := login(ctx, base, hc, creds.doctor)
	if err != nil {
		return err
	}
	nurse, err := login(ctx, base, hc, creds.nurse)
	if err != nil {
		return err
	}

	clinic, err := admin.CreateClinic(ctx, records.ClinicInput{Name: fmt.Sprintf("Smoke Clinic %d", time.Now().UnixNano())})
	if err != nil {
		return fmt.Errorf("admin create clinic: %w", err)
	}
	if _, err := doctor.DeleteClinic(ctx, clinic.ID); !errors.Is(err, client.ErrForbidden) {
		return fmt.Errorf("doctor delete clinic: expected 403, got %v", err)
	}
	if deleted, err := admin.DeleteClinic(ctx, clinic.ID); err != nil || deleted.Active {
		return fmt.Errorf("admin delete clinic: %+v %v", deleted, err)
	}
	if _, err := nurse.ListPatients(ctx, records.Page{}); err != nil {
		return fmt.Errorf("nurse list patients: %w", err)
	}
	if _, err := nurse.DashboardStats(ctx); err != nil {
		return fmt.Errorf("nurse dashboard: %w", err)
	}
	return nil
}

func login(ctx context.Context, base string, hc *http.Client, cred [2]string) (*client.Client, error) {
	c := client.New(base, hc)
	if _, err := c.Login(ctx, cred[0], cred[1]); err != nil {
		return nil, fmt.Errorf("login %s: %w", cred[0], err)
	}
	return c, nil
}
