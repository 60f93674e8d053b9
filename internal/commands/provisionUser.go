package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"palaver/internal/api"
	"palaver/internal/config"
	"palaver/internal/models"
)

// ProvisionUser calls the admin API to register a user synced from the
// identity system and prints the issued bearer token.
func ProvisionUser(displayName string, staff bool, cfg *config.Config) error {
	role := models.RoleOrdinary
	if staff {
		role = models.RoleStaff
	}

	reqBody, err := json.Marshal(api.ProvisionUserRequest{
		DisplayName: displayName,
		Role:        role,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("http://%s/admin/users", cfg.AdminAddr)
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w. Is the server running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to provision user (Status: %d): %s", resp.StatusCode, string(body))
	}

	var result api.ProvisionUserResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("\nUser Provisioned Successfully!\n")
	fmt.Printf("User ID:       %s\n", result.UserID)
	fmt.Printf("Role:          %s\n", role)
	fmt.Printf("Bearer Token:  %s\n\n", result.Token)
	fmt.Println("The token authenticates both the REST API and the websocket endpoint.")
	return nil
}
