// Command healthcheck probes the entrypoint's admin plane and exits 0 when
// the container reports healthy. It is wired as the image's HEALTHCHECK and
// keeps no local state: everything goes over HTTP.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"stackinit/internal/logx"
)

type healthResponse struct {
	Status   string                     `json:"status"`
	Services map[string]json.RawMessage `json:"services"`
}

type serviceState struct {
	Status string `json:"status"`
}

func main() {
	if check() {
		os.Exit(0)
	}
	os.Exit(1)
}

func check() bool {
	log := logx.New("healthcheck")

	port := os.Getenv("STACKINIT_ADMIN_PORT")
	if port == "" {
		port = "8181"
	}
	url := fmt.Sprintf("http://localhost:%s/health", port)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		log.Error("health_check_failed", err, nil)
		return false
	}
	defer resp.Body.Close()

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.Error("health_check_failed", err, map[string]any{"reason": "bad response body"})
		return false
	}

	if resp.StatusCode != http.StatusOK || body.Status != "healthy" {
		log.Error("health_check_failed", nil, map[string]any{
			"status_code": resp.StatusCode,
			"status":      body.Status,
		})
		return false
	}

	for name, raw := range body.Services {
		var st serviceState
		if err := json.Unmarshal(raw, &st); err == nil && st.Status != "running" {
			log.Warn("service_not_running", map[string]any{"service": name, "status": st.Status})
		}
	}

	log.Info("health_check_passed", nil)
	return true
}
